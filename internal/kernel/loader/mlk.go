/*
 * mlkernel - MLK executable format
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

// Package loader parses the MLK executable format, maintains the
// closed binary registry SPAWN looks ids up in, and assembles a
// complete user process from a parsed image: address space, identity
// mappings, code frames, user and kernel stacks. Grounded on
// emu/assemble's header-then-raw-bytes image convention, adapted from
// an assembler's output format to the kernel's own loader input.
package loader

import (
	"encoding/binary"
	"errors"
)

const (
	magic0, magic1, magic2, magic3 = 'M', 'L', 'K', 0x01
	headerSize                     = 16
	maxCodeSize                    = 1 << 20 // 1 MiB
)

var (
	ErrBadMagic      = errors.New("loader: bad MLK magic")
	ErrBadCodeSize   = errors.New("loader: code_size must be in [1, 1MiB]")
	ErrBadEntry      = errors.New("loader: entry_offset >= code_size")
	ErrBadReserved   = errors.New("loader: reserved field must be zero")
	ErrTruncated     = errors.New("loader: image shorter than header declares")
	// ErrNoMemory is returned by Spawn when the frame allocator cannot
	// supply code, stack, or kernel-stack frames.
	ErrNoMemory = errors.New("loader: out of physical memory")
)

// Image is a parsed MLK binary: its entry offset and raw code bytes.
type Image struct {
	EntryOffset uint32
	Code        []byte
}

// ParseHeader validates and parses a raw MLK image per spec.md §6.
func ParseHeader(raw []byte) (*Image, error) {
	if len(raw) < headerSize {
		return nil, ErrTruncated
	}
	if raw[0] != magic0 || raw[1] != magic1 || raw[2] != magic2 || raw[3] != magic3 {
		return nil, ErrBadMagic
	}
	entry := binary.LittleEndian.Uint32(raw[4:8])
	codeSize := binary.LittleEndian.Uint32(raw[8:12])
	reserved := binary.LittleEndian.Uint32(raw[12:16])

	if reserved != 0 {
		return nil, ErrBadReserved
	}
	if codeSize == 0 || codeSize > maxCodeSize {
		return nil, ErrBadCodeSize
	}
	if entry >= codeSize {
		return nil, ErrBadEntry
	}
	if uint64(len(raw)) < uint64(headerSize)+uint64(codeSize) {
		return nil, ErrTruncated
	}
	code := make([]byte, codeSize)
	copy(code, raw[headerSize:uint64(headerSize)+uint64(codeSize)])
	return &Image{EntryOffset: entry, Code: code}, nil
}
