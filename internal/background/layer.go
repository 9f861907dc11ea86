/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package background holds the reference image drawn under the regions. Large
// images are halved until they fit the pixel budget so that redraws stay cheap.
package background

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"sync"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	applog "gocouple/internal/log"
)

// DefaultPixelBudget is the largest pixel count kept after downsampling (1024x1024).
const DefaultPixelBudget = 1 << 20

var (
	// ErrDecode matches every *DecodeError.
	ErrDecode = errors.New("background: decode failed")
	// ErrSuperseded is reported to a load callback whose result was dropped
	// because a newer load or a Clear happened first.
	ErrSuperseded = errors.New("background: load superseded")
)

// DecodeError reports bytes that could not be turned into an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string        { return fmt.Sprintf("background: decode: %v", e.Err) }
func (e *DecodeError) Unwrap() error        { return e.Err }
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Layer is safe for concurrent use.
type Layer struct {
	mu      sync.RWMutex
	img     *image.RGBA
	encoded []byte
	format  string
	gen     uint64
	budget  int
	log     *slog.Logger
	changed func()
}

// Option configures a Layer.
type Option func(*Layer)

// WithPixelBudget overrides DefaultPixelBudget; values <= 0 disable downsampling.
func WithPixelBudget(n int) Option { return func(l *Layer) { l.budget = n } }

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option { return func(l *Layer) { l.log = lg } }

func New(opts ...Option) *Layer {
	l := &Layer{budget: DefaultPixelBudget}
	for _, o := range opts {
		o(l)
	}
	if l.log == nil {
		l.log = applog.WithComponent("background")
	}
	return l
}

// SetOnChange registers fn to run after an image is swapped in or cleared.
func (l *Layer) SetOnChange(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changed = fn
}

// Load decodes encoded in the background and calls done with the outcome.
// The current image stays visible until the new one is ready; on failure it
// is kept. done may be nil.
func (l *Layer) Load(ctx context.Context, encoded []byte, done func(error)) {
	data := append([]byte(nil), encoded...)
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()
	go func() {
		err := l.load(ctx, gen, data)
		if done != nil {
			done(err)
		}
	}()
}

// LoadSync is Load for callers that are already off the interactive path.
func (l *Layer) LoadSync(encoded []byte) error {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()
	return l.load(context.Background(), gen, encoded)
}

func (l *Layer) load(ctx context.Context, gen uint64, data []byte) error {
	img, format, err := Decode(data, l.budget)
	if err != nil {
		l.log.Warn("background decode failed", slog.Int("bytes", len(data)), slog.Any("err", err))
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("background: encode: %w", err)
	}
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return ErrSuperseded
	}
	l.img, l.encoded, l.format = img, buf.Bytes(), format
	cb := l.changed
	l.mu.Unlock()
	b := img.Bounds()
	l.log.Debug("background loaded", slog.String("format", format), slog.Int("w", b.Dx()), slog.Int("h", b.Dy()))
	if cb != nil {
		cb()
	}
	return nil
}

// Clear drops the image and cancels the effect of any load still in progress.
func (l *Layer) Clear() {
	l.mu.Lock()
	l.gen++
	l.img, l.encoded, l.format = nil, nil, ""
	cb := l.changed
	l.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Image returns the current image, or nil. Callers must not modify it.
func (l *Layer) Image() image.Image {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.img == nil {
		return nil
	}
	return l.img
}

// Encoded returns a copy of the PNG encoding of the current image.
func (l *Layer) Encoded() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]byte(nil), l.encoded...)
}

// Size returns the dimensions of the current image, 0x0 when empty.
func (l *Layer) Size() (int, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.img == nil {
		return 0, 0
	}
	b := l.img.Bounds()
	return b.Dx(), b.Dy()
}

// Format names the decoder that read the source bytes.
func (l *Layer) Format() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.format
}

// Loaded reports whether an image is present.
func (l *Layer) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.img != nil
}

// Decode reads any registered image format and downsamples it to budget.
func Decode(data []byte, budget int) (*image.RGBA, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, format, &DecodeError{Err: errors.New("empty image")}
	}
	w, h, steps := Halvings(b.Dx(), b.Dy(), budget)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if steps == 0 {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}
	return dst, format, nil
}

// Halvings returns the size reached by halving w and h (rounding up) until
// w*h fits budget, and how many rounds that took.
func Halvings(w, h, budget int) (int, int, int) {
	steps := 0
	if budget <= 0 {
		return w, h, 0
	}
	for w*h > budget && (w > 1 || h > 1) {
		w, h = (w+1)/2, (h+1)/2
		steps++
	}
	return w, h, steps
}

// Fit places an image of iw x ih inside a canvas of cw x ch, preserving the
// aspect ratio and centering it. It returns the destination rectangle.
func Fit(cw, ch, iw, ih float64) (x, y, w, h float64) {
	if iw <= 0 || ih <= 0 || cw <= 0 || ch <= 0 {
		return 0, 0, 0, 0
	}
	s := min(cw/iw, ch/ih)
	w, h = iw*s, ih*s
	return (cw - w) / 2, (ch - h) / 2, w, h
}
