package boardimg

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

type glyphKind int

const (
	glyphCard glyphKind = iota
	glyphPawn
	glyphBuff
	glyphDebuff
)

const (
	cardSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
<rect x="8" y="6" width="84" height="88" rx="10" ry="10" fill="%s" stroke="#1c1f2e" stroke-width="4"/>
<rect x="18" y="16" width="64" height="40" rx="6" ry="6" fill="#ffffff" fill-opacity="0.25"/>
</svg>`
	pawnSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
<circle cx="50" cy="30" r="18" fill="%s" stroke="#1c1f2e" stroke-width="6"/>
<path d="M30 90 L38 52 L62 52 L70 90 Z" fill="%s" stroke="#1c1f2e" stroke-width="6"/>
</svg>`
	buffSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
<path d="M50 10 L90 80 L10 80 Z" fill="#2fbf71" stroke="#0d3b23" stroke-width="6"/>
</svg>`
	debuffSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
<path d="M10 20 L90 20 L50 90 Z" fill="#e5484d" stroke="#4a1113" stroke-width="6"/>
</svg>`
)

type glyphKey struct {
	kind glyphKind
	fill string
	size int
}

var (
	glyphCache   = map[glyphKey]image.Image{}
	glyphCacheMu sync.RWMutex
)

func hexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// renderGlyph rasterizes one of the built-in SVG glyphs at size x size.
func renderGlyph(kind glyphKind, fill color.NRGBA, size int) (image.Image, error) {
	key := glyphKey{kind: kind, fill: hexColor(fill), size: size}

	glyphCacheMu.RLock()
	if img, ok := glyphCache[key]; ok {
		glyphCacheMu.RUnlock()
		return img, nil
	}
	glyphCacheMu.RUnlock()

	var src string
	switch kind {
	case glyphCard:
		src = fmt.Sprintf(cardSVG, key.fill)
	case glyphPawn:
		src = fmt.Sprintf(pawnSVG, key.fill, key.fill)
	case glyphBuff:
		src = buffSVG
	case glyphDebuff:
		src = debuffSVG
	default:
		return nil, fmt.Errorf("unknown glyph %d", kind)
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse glyph svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	glyphCacheMu.Lock()
	glyphCache[key] = img
	glyphCacheMu.Unlock()

	return img, nil
}
