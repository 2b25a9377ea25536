package pvpmatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Repository writes finalized matches to Postgres.
type Repository struct {
	db *sql.DB
}

var _ ResultStore = (*Repository)(nil)

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS match_results (
    match_id      TEXT PRIMARY KEY,
    lobby_id      TEXT NOT NULL DEFAULT '',
    map_id        TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    end_reason    TEXT NOT NULL,
    winner_id     TEXT NOT NULL DEFAULT '',
    home_id       TEXT NOT NULL,
    home_name     TEXT NOT NULL DEFAULT '',
    home_score    DOUBLE PRECISION NOT NULL,
    home_rows     JSONB NOT NULL,
    home_coins    INTEGER NOT NULL,
    home_outcome  TEXT NOT NULL,
    away_id       TEXT NOT NULL,
    away_name     TEXT NOT NULL DEFAULT '',
    away_score    DOUBLE PRECISION NOT NULL,
    away_rows     JSONB NOT NULL,
    away_coins    INTEGER NOT NULL,
    away_outcome  TEXT NOT NULL,
    turn_number   INTEGER NOT NULL,
    board         JSONB NOT NULL,
    board_png     BYTEA,
    started_at    TIMESTAMPTZ NOT NULL,
    ended_at      TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT NOT NULL
)`

// EnsureSchema creates the results table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, schemaSQL)
	return err
}

// SaveResult upserts a finalized match.
func (r *Repository) SaveResult(ctx context.Context, rec *Record) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}
	homeRows, _ := json.Marshal(rec.Home.RowScores)
	awayRows, _ := json.Marshal(rec.Away.RowScores)

	q := `INSERT INTO match_results (
        match_id, lobby_id, map_id, status, end_reason, winner_id,
        home_id, home_name, home_score, home_rows, home_coins, home_outcome,
        away_id, away_name, away_score, away_rows, away_coins, away_outcome,
        turn_number, board, board_png, started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24
      ) ON CONFLICT (match_id) DO UPDATE SET
        status=EXCLUDED.status,
        end_reason=EXCLUDED.end_reason,
        winner_id=EXCLUDED.winner_id,
        home_score=EXCLUDED.home_score,
        home_rows=EXCLUDED.home_rows,
        home_coins=EXCLUDED.home_coins,
        home_outcome=EXCLUDED.home_outcome,
        away_score=EXCLUDED.away_score,
        away_rows=EXCLUDED.away_rows,
        away_coins=EXCLUDED.away_coins,
        away_outcome=EXCLUDED.away_outcome,
        turn_number=EXCLUDED.turn_number,
        board=EXCLUDED.board,
        board_png=EXCLUDED.board_png,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.MatchID, rec.LobbyID, rec.MapID, string(rec.Status), string(rec.EndReason), rec.WinnerID,
		rec.Home.UserID, rec.Home.DisplayName, rec.Home.Score, string(homeRows), rec.Home.Coins, string(rec.Home.Outcome),
		rec.Away.UserID, rec.Away.DisplayName, rec.Away.Score, string(awayRows), rec.Away.Coins, string(rec.Away.Outcome),
		rec.TurnNumber, string(rec.Board), rec.BoardPNG, rec.StartedAt, rec.EndedAt, rec.DurationMS,
	)
	return err
}

// MemoryRepository keeps records in process, for single-node runs without Postgres and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

var _ ResultStore = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*Record)}
}

func (m *MemoryRepository) SaveResult(_ context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.MatchID]; !ok {
		m.order = append(m.order, rec.MatchID)
	}
	cp := *rec
	m.records[rec.MatchID] = &cp
	return nil
}

// Get returns the saved record for id, or nil.
func (m *MemoryRepository) Get(id string) *Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id]
}

// Len reports how many distinct matches were saved.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}
