// Package smdh parses the "System Menu Data Header" icon/title block
// embedded in ExeFS as the file "icon", extracting the localized
// human-readable title names used for install log lines.
//
// https://www.3dbrew.org/wiki/SMDH
package smdh

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// Size is the fixed length of an SMDH blob.
const Size = 0x36C0

const (
	magicOffset    = 0
	magic          = "SMDH"
	appTitlesStart = 8
	titleBlockSize = 0x200
	numRegions     = 12

	shortDescSize = 0x80
	longDescSize  = 0x100
	publisherSize = 0x80
)

// Region indexes the 12 localized title blocks, in on-disk order.
type Region int

const (
	RegionJapanese Region = iota
	RegionEnglish
	RegionFrench
	RegionGerman
	RegionItalian
	RegionSpanish
	RegionChineseSimplified
	RegionKorean
	RegionDutch
	RegionPortuguese
	RegionRussian
	RegionChineseTraditional
)

// AppTitle is one localized title block.
type AppTitle struct {
	ShortDescription string
	LongDescription  string
	Publisher        string
}

// SMDH is a parsed icon/title header.
type SMDH struct {
	Titles [numRegions]AppTitle
}

// Load parses an SMDH blob. data must be exactly Size bytes and start with
// the "SMDH" magic.
func Load(data []byte) (*SMDH, error) {
	if len(data) != Size {
		return nil, fmt.Errorf("smdh: length %d, want %d: %w", len(data), Size, ErrInvalidSMDH)
	}
	if string(data[magicOffset:magicOffset+4]) != magic {
		return nil, fmt.Errorf("smdh: bad magic: %w", ErrInvalidSMDH)
	}

	s := &SMDH{}
	for i := 0; i < numRegions; i++ {
		block := data[appTitlesStart+i*titleBlockSize : appTitlesStart+(i+1)*titleBlockSize]
		s.Titles[i] = AppTitle{
			ShortDescription: decodeUTF16NullTerminated(block[0:shortDescSize]),
			LongDescription:  decodeUTF16NullTerminated(block[shortDescSize : shortDescSize+longDescSize]),
			Publisher:        decodeUTF16NullTerminated(block[shortDescSize+longDescSize : shortDescSize+longDescSize+publisherSize]),
		}
	}
	return s, nil
}

// Title returns the English title block, falling back to Japanese (the
// first in on-disk order) if English is empty.
func (s *SMDH) Title() AppTitle {
	if s.Titles[RegionEnglish].ShortDescription != "" {
		return s.Titles[RegionEnglish]
	}
	return s.Titles[RegionJapanese]
}

func decodeUTF16NullTerminated(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	for i, u := range units {
		if u == 0 {
			units = units[:i]
			break
		}
	}
	return string(utf16.Decode(units))
}
