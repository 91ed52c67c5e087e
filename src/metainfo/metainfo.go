package metainfo

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"os"

	bencode "github.com/jackpal/bencode-go"

	"github.com/TatuMon/handshaker/src/handshake"
)

type bencodeInfo struct {
	Length      uint   `bencode:"length"` // Length of the final file in bytes
	Name        string `bencode:"name"`
	PieceLength uint   `bencode:"piece length"` // Number of bytes in each piece
	Pieces      string `bencode:"pieces"`       // Concatenation of all 20-byte SHA1 piece hashes (byte string, not urlencoded)
}

type bencodeMetainfo struct {
	Announce     string      `bencode:"announce"`
	Info         bencodeInfo `bencode:"info"`
	Comment      string      `bencode:"comment"`
	CreationDate int         `bencode:"creation date"`
	CreatedBy    string      `bencode:"created by"`
}

type Metainfo struct {
	Announce     string
	Comment      string
	CreationDate int
	CreatedBy    string
	FileSize     uint
	FileName     string
	InfoHash     handshake.InfoHash
}

func (m *Metainfo) JsonPreviewIndented() (string, error) {
	j, err := json.MarshalIndent(m, "", "\t")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metainfo: %w", err)
	}

	return string(j), nil
}

func FromFile(torrentPath string) (*Metainfo, error) {
	torrentFile, err := os.Open(torrentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open torrent file: %w", err)
	}
	defer torrentFile.Close()

	m, err := FromReader(torrentFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent file: %w", err)
	}

	return m, nil
}

func FromReader(r io.Reader) (*Metainfo, error) {
	data := bencodeMetainfo{}
	if err := bencode.Unmarshal(r, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal torrent file: %w", err)
	}

	return metainfoFromBencode(data)
}

/*
*
The infohash is the SHA1 checksum of the bencoded 'info' dictionary, exactly
as it would be re-encoded.
*/
func genInfoHash(info bencodeInfo) (handshake.InfoHash, error) {
	buf := new(bytes.Buffer)
	if err := bencode.Marshal(buf, info); err != nil {
		return handshake.InfoHash{}, fmt.Errorf("failed to marshal field 'info': %w", err)
	}

	return sha1.Sum(buf.Bytes()), nil
}

func metainfoFromBencode(data bencodeMetainfo) (*Metainfo, error) {
	if len(data.Info.Pieces)%20 != 0 {
		return nil, fmt.Errorf("received malformed pieces hashes")
	}

	infoHash, err := genInfoHash(data.Info)
	if err != nil {
		return nil, fmt.Errorf("failed to generate sha1 checksum of field 'info': %w", err)
	}

	return &Metainfo{
		Announce:     data.Announce,
		Comment:      data.Comment,
		CreationDate: data.CreationDate,
		CreatedBy:    data.CreatedBy,
		FileSize:     data.Info.Length,
		FileName:     data.Info.Name,
		InfoHash:     infoHash,
	}, nil
}
