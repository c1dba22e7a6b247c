/*
 * mlkernel - boot configuration file parser
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

// Package config parses the kernel's boot configuration file.
//
// Grammar, one directive per line:
//
//	'#' starts a comment, rest of line ignored.
//	ram <size>[K|M]               usable RAM given to the frame allocator
//	log <path>                    log file path (overridden by --log)
//	binary <id> <path>            register a binary id against an MLK image file
//	device <name> <base-hex> <size-hex>   extra device-allowlist region
//
// Unknown directives are a parse error, exactly as the teacher's
// configparser rejects unknown model keywords: a typo in a boot config
// should fail loudly at boot, not be silently ignored.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DeviceRegion is an additional device-allowlist entry contributed by
// the config file, on top of the architecture-fixed GIC/UART/VirtIO
// ranges.
type DeviceRegion struct {
	Name  string
	Base  uint64
	Size  uint64
}

// BinaryEntry maps a binary registry id to an MLK image file on disk.
type BinaryEntry struct {
	ID   uint32
	Path string
}

// Config is the parsed boot configuration.
type Config struct {
	RAMBytes uint64
	LogPath  string
	Binaries []BinaryEntry
	Devices  []DeviceRegion
}

type optionLine struct {
	line string
	pos  int
	num  int
}

func (l *optionLine) isEOL() bool {
	l.skipSpace()
	return l.pos >= len(l.line)
}

func (l *optionLine) skipSpace() {
	for l.pos < len(l.line) && (l.line[l.pos] == ' ' || l.line[l.pos] == '\t') {
		l.pos++
	}
}

func (l *optionLine) token() string {
	l.skipSpace()
	start := l.pos
	for l.pos < len(l.line) {
		c := l.line[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '#' {
			break
		}
		l.pos++
	}
	return l.line[start:l.pos]
}

// Load reads and parses a configuration file.
func Load(name string) (*Config, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &Config{RAMBytes: 64 * 1024 * 1024}
	reader := bufio.NewReader(file)
	lineNum := 0
	for {
		raw, readErr := reader.ReadString('\n')
		lineNum++
		if len(raw) == 0 && readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, readErr
		}

		if err := parseLine(cfg, &optionLine{line: raw, num: lineNum}); err != nil {
			return nil, err
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, readErr
		}
	}
	return cfg, nil
}

func parseLine(cfg *Config, l *optionLine) error {
	if idx := strings.IndexByte(l.line, '#'); idx >= 0 {
		l.line = l.line[:idx]
	}
	if l.isEOL() {
		return nil
	}

	directive := strings.ToLower(l.token())
	switch directive {
	case "ram":
		size, err := parseSize(l.token())
		if err != nil {
			return fmt.Errorf("line %d: bad ram size: %w", l.num, err)
		}
		cfg.RAMBytes = size
	case "log":
		if l.isEOL() {
			return fmt.Errorf("line %d: log requires a path", l.num)
		}
		cfg.LogPath = l.token()
	case "binary":
		idTok := l.token()
		path := l.token()
		if idTok == "" || path == "" {
			return fmt.Errorf("line %d: binary requires <id> <path>", l.num)
		}
		id, err := strconv.ParseUint(idTok, 0, 32)
		if err != nil {
			return fmt.Errorf("line %d: bad binary id: %w", l.num, err)
		}
		cfg.Binaries = append(cfg.Binaries, BinaryEntry{ID: uint32(id), Path: path})
	case "device":
		name := l.token()
		baseTok := l.token()
		sizeTok := l.token()
		if name == "" || baseTok == "" || sizeTok == "" {
			return fmt.Errorf("line %d: device requires <name> <base-hex> <size-hex>", l.num)
		}
		base, err := strconv.ParseUint(baseTok, 0, 64)
		if err != nil {
			return fmt.Errorf("line %d: bad device base: %w", l.num, err)
		}
		size, err := strconv.ParseUint(sizeTok, 0, 64)
		if err != nil {
			return fmt.Errorf("line %d: bad device size: %w", l.num, err)
		}
		cfg.Devices = append(cfg.Devices, DeviceRegion{Name: name, Base: base, Size: size})
	default:
		return fmt.Errorf("line %d: unknown directive %q", l.num, directive)
	}
	return nil
}

func parseSize(tok string) (uint64, error) {
	if tok == "" {
		return 0, errors.New("missing size")
	}
	mult := uint64(1)
	switch tok[len(tok)-1] {
	case 'K', 'k':
		mult = 1024
		tok = tok[:len(tok)-1]
	case 'M', 'm':
		mult = 1024 * 1024
		tok = tok[:len(tok)-1]
	}
	v, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return 0, err
	}
	return v * mult, nil
}
