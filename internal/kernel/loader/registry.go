/*
 * mlkernel - closed binary registry
 *
 * Copyright 2026, mlkernel contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package loader

import (
	"errors"
	"os"
)

// ErrUnknownBinary is returned by Lookup for an id SPAWN did not register.
var ErrUnknownBinary = errors.New("loader: unknown binary id")

// Registry is the closed set of binary ids SPAWN may launch. Spec.md
// is explicit that the ids are part of a particular build's ABI, not
// the core design, so the registry is populated at boot from the
// config file rather than fixed in code.
type Registry struct {
	images map[uint32]*Image
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{images: make(map[uint32]*Image)}
}

// RegisterFile parses the MLK image at path and adds it under id,
// rejecting a duplicate id the same way the teacher's config loader
// rejects a duplicate device unit.
func (r *Registry) RegisterFile(id uint32, path string) error {
	if _, exists := r.images[id]; exists {
		return errors.New("loader: duplicate binary id")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	img, err := ParseHeader(raw)
	if err != nil {
		return err
	}
	r.images[id] = img
	return nil
}

// Register adds an already-parsed image directly, for binaries built
// programmatically (tests, the sample assembler) instead of read from
// disk.
func (r *Registry) Register(id uint32, img *Image) {
	r.images[id] = img
}

// Lookup returns the image registered under id.
func (r *Registry) Lookup(id uint32) (*Image, error) {
	img, ok := r.images[id]
	if !ok {
		return nil, ErrUnknownBinary
	}
	return img, nil
}
