package btpeer

import (
	"crypto/sha1" //nolint:gosec // BEP-9/3 mandate SHA-1 for the info dict
	"fmt"

	"github.com/kadcrawl/kadcrawl/internal/bencode"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// FileEntry is one file within a multi-file torrent's info dictionary.
type FileEntry struct {
	Path []string `bencode:"path"`
	Size int64    `bencode:"length"`
}

// infoDict mirrors the single-file/multi-file info dictionary BEP-3
// defines, the same shape the teacher's metainfo.Info (not retrieved in
// full, but referenced by metainfo.MetaInfo.RawInfo) decodes into.
type infoDict struct {
	Name        string      `bencode:"name"`
	PieceLength int64       `bencode:"piece length"`
	Pieces      []byte      `bencode:"pieces"`
	Length      int64       `bencode:"length,omitempty"`
	Files       []FileEntry `bencode:"files,omitempty"`
}

// Info is the decoded, verified result of a completed metadata download.
type Info struct {
	InfoHash   identifier.ID
	Name       string
	TotalSize  int64
	PieceCount int
	Files      []FileEntry
	RawInfo    []byte
}

// DecodeInfo verifies raw's SHA-1 matches want, then decodes it into an
// Info, computing TotalSize/PieceCount/Files for both single-file and
// multi-file torrents.
func DecodeInfo(raw []byte, want identifier.ID) (Info, error) {
	sum := sha1.Sum(raw)
	if identifier.ID(sum) != want {
		return Info{}, fmt.Errorf("btpeer: info dict sha1 mismatch: want %s got %s", want, identifier.ID(sum))
	}

	var d infoDict
	if err := bencode.DecodeBytes(raw, &d); err != nil {
		return Info{}, fmt.Errorf("btpeer: decoding info dict: %w", err)
	}
	if d.PieceLength <= 0 || len(d.Pieces)%20 != 0 {
		return Info{}, fmt.Errorf("btpeer: invalid info dict: piece_length=%d pieces_len=%d", d.PieceLength, len(d.Pieces))
	}

	info := Info{InfoHash: want, Name: d.Name, PieceCount: len(d.Pieces) / 20, RawInfo: raw}
	if len(d.Files) > 0 {
		info.Files = d.Files
		for _, f := range d.Files {
			info.TotalSize += f.Size
		}
	} else {
		info.TotalSize = d.Length
		info.Files = []FileEntry{{Path: []string{d.Name}, Size: d.Length}}
	}
	return info, nil
}
