package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ironbase/ironbase/internal/log"
	"github.com/ironbase/ironbase/internal/util"
)

// Primary store file layout, grounded on the teacher's storage.Pager (direct
// os.File I/O with an explicit header region) but reworked from bundoc's
// fixed-size paged layout into the spec's append-only record file: a fixed
// 256-byte header, an append-only data region of length-prefixed document
// records, and a metadata trailer written at checkpoint/close.

const (
	HeaderSize   = 256
	recordFlagLive      byte = 0
	recordFlagTombstone byte = 1
)

var magic = [8]byte{'I', 'R', 'O', 'N', 'B', 'A', 'S', 'E'}

const fileVersion = 1
const nominalPageSize = 4096

// header mirrors the spec's 256-byte primary file header.
type header struct {
	Magic              [8]byte
	Version            uint32
	PageSize           uint32
	CollectionCount    uint32
	FreeListHead       uint64
	IndexSectionOffset uint64
	MetadataOffset     uint64
	MetadataSize       uint64
}

func (h *header) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], h.PageSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.CollectionCount)
	binary.LittleEndian.PutUint64(buf[20:28], h.FreeListHead)
	binary.LittleEndian.PutUint64(buf[28:36], h.IndexSectionOffset)
	binary.LittleEndian.PutUint64(buf[36:44], h.MetadataOffset)
	binary.LittleEndian.PutUint64(buf[44:52], h.MetadataSize)
	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < HeaderSize {
		return nil, util.Wrap(util.KindCorruptHeader, "short header read", nil)
	}
	h := &header{}
	copy(h.Magic[:], buf[0:8])
	if h.Magic != magic {
		return nil, util.Wrap(util.KindCorruptHeader, "bad magic", nil)
	}
	h.Version = binary.LittleEndian.Uint32(buf[8:12])
	h.PageSize = binary.LittleEndian.Uint32(buf[12:16])
	h.CollectionCount = binary.LittleEndian.Uint32(buf[16:20])
	h.FreeListHead = binary.LittleEndian.Uint64(buf[20:28])
	h.IndexSectionOffset = binary.LittleEndian.Uint64(buf[28:36])
	h.MetadataOffset = binary.LittleEndian.Uint64(buf[36:44])
	h.MetadataSize = binary.LittleEndian.Uint64(buf[44:52])
	return h, nil
}

// CollectionMeta is the persisted descriptor for one collection, stored in
// the metadata trailer as JSON per §4.1.
type CollectionMeta struct {
	Name          string      `json:"name"`
	LastID        int64       `json:"last_id"`
	DocumentCount int         `json:"document_count"`
	Catalog       [][2]int64  `json:"document_catalog"` // [doc_id, offset] pairs
	Indexes       []IndexMeta `json:"indexes"`
}

// IndexMeta is the persisted descriptor for one secondary index.
type IndexMeta struct {
	Name      string   `json:"name"`
	KeyPath   []string `json:"key_path"`
	Unique    bool     `json:"unique"`
	FilePath  string   `json:"file_path"`
	RootPage  uint64   `json:"root_page_offset"`
	Height    int      `json:"height"`
	EntryCount int     `json:"entry_count"`
}

type trailer struct {
	Collections []CollectionMeta `json:"collections"`
}

// File is the primary store: a single on-disk file owned exclusively by one
// Database handle for its lifetime.
type File struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	hdr     *header
	dataEnd int64 // offset of the next record to append
}

// OpenFile opens or creates the primary store file at path.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, util.Wrap(util.KindIoError, "open primary file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, util.Wrap(util.KindIoError, "stat primary file", err)
	}

	pf := &File{f: f, path: path}

	if info.Size() == 0 {
		pf.hdr = &header{Magic: magic, Version: fileVersion, PageSize: nominalPageSize}
		if _, err := f.WriteAt(pf.hdr.encode(), 0); err != nil {
			f.Close()
			return nil, util.Wrap(util.KindIoError, "write initial header", err)
		}
		pf.dataEnd = HeaderSize
		return pf, nil
	}

	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, util.Wrap(util.KindCorruptHeader, "read header", err)
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	pf.hdr = hdr

	if hdr.MetadataOffset != 0 {
		pf.dataEnd = int64(hdr.MetadataOffset)
	} else {
		pf.dataEnd = info.Size()
	}
	return pf, nil
}

// Header exposes the decoded header for diagnostics (stats()).
func (pf *File) Header() header { return *pf.hdr }

// DataEnd returns the current tail of the append-only data region.
func (pf *File) DataEnd() int64 {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.dataEnd
}

// AppendDocument writes a document record at the file tail and returns its
// offset (the position of the record's length header, used as the catalog
// entry). A live record carries the full document; a tombstone carries only
// its _id.
func (pf *File) AppendDocument(doc Document, tombstone bool) (int64, error) {
	var payload []byte
	if tombstone {
		id, _ := ID(doc)
		payload = append(payload, recordFlagTombstone)
		payload = EncodeValue(payload, Map(Document{"_id": id}))
	} else {
		payload = append(payload, recordFlagLive)
		payload = EncodeValue(payload, Map(doc))
	}
	return pf.appendRaw(payload)
}

func (pf *File) appendRaw(payload []byte) (int64, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	offset := pf.dataEnd
	if err := pf.f.Truncate(offset); err != nil {
		return 0, util.Wrap(util.KindIoError, "truncate stale trailer", err)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := pf.f.WriteAt(lenBuf[:], offset); err != nil {
		return 0, util.Wrap(util.KindIoError, "write record length", err)
	}
	if _, err := pf.f.WriteAt(payload, offset+4); err != nil {
		return 0, util.Wrap(util.KindIoError, "write record payload", err)
	}
	pf.dataEnd = offset + 4 + int64(len(payload))
	return offset, nil
}

// ReadRecordAt decodes the record whose length header sits at offset,
// returning the document (or the bare-_id document for a tombstone) and
// whether it is a tombstone.
func (pf *File) ReadRecordAt(offset int64) (Document, bool, error) {
	pf.mu.Lock()
	f := pf.f
	pf.mu.Unlock()

	var lenBuf [4]byte
	if _, err := f.ReadAt(lenBuf[:], offset); err != nil {
		return nil, false, util.Wrap(util.KindCorruptRecord, fmt.Sprintf("read length at %d", offset), err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 || n > 64<<20 {
		return nil, false, util.Wrap(util.KindCorruptRecord, fmt.Sprintf("implausible record length %d at %d", n, offset), nil)
	}
	payload := make([]byte, n)
	if _, err := f.ReadAt(payload, offset+4); err != nil {
		return nil, false, util.Wrap(util.KindCorruptRecord, fmt.Sprintf("read payload at %d", offset), err)
	}
	tombstone := payload[0] == recordFlagTombstone
	v, off, err := DecodeValue(payload, 1)
	if err != nil {
		return nil, false, err
	}
	if off != len(payload) || v.Kind() != KindMap {
		return nil, false, util.Wrap(util.KindCorruptRecord, fmt.Sprintf("malformed record at %d", offset), nil)
	}
	return v.Map(), tombstone, nil
}

// WriteTrailer serializes collection metadata and writes it past the
// current data tail, then updates and fsyncs the header last, so a crash
// mid-write leaves the previous header (and therefore previous trailer)
// intact.
func (pf *File) WriteTrailer(cols []CollectionMeta) error {
	body, err := json.Marshal(trailer{Collections: cols})
	if err != nil {
		return util.Wrap(util.KindIoError, "marshal metadata trailer", err)
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	offset := pf.dataEnd
	if err := pf.f.Truncate(offset); err != nil {
		return util.Wrap(util.KindIoError, "truncate before trailer", err)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := pf.f.WriteAt(lenBuf[:], offset); err != nil {
		return util.Wrap(util.KindIoError, "write trailer length", err)
	}
	if _, err := pf.f.WriteAt(body, offset+4); err != nil {
		return util.Wrap(util.KindIoError, "write trailer body", err)
	}
	if err := pf.f.Sync(); err != nil {
		return util.Wrap(util.KindIoError, "fsync trailer", err)
	}

	pf.hdr.MetadataOffset = uint64(offset)
	pf.hdr.MetadataSize = uint64(4 + len(body))
	pf.hdr.CollectionCount = uint32(len(cols))
	if _, err := pf.f.WriteAt(pf.hdr.encode(), 0); err != nil {
		return util.Wrap(util.KindIoError, "write header", err)
	}
	if err := pf.f.Sync(); err != nil {
		return util.Wrap(util.KindIoError, "fsync header", err)
	}
	log.Debug("checkpoint: trailer written at %d (%d bytes), %d collections", offset, len(body), len(cols))
	return nil
}

// ReadTrailer parses the metadata trailer declared by the header, or
// returns (nil, false, nil) if the header declares none.
func (pf *File) ReadTrailer() ([]CollectionMeta, bool, error) {
	pf.mu.Lock()
	hdr := *pf.hdr
	f := pf.f
	pf.mu.Unlock()

	if hdr.MetadataOffset == 0 {
		return nil, false, nil
	}
	buf := make([]byte, hdr.MetadataSize)
	if _, err := f.ReadAt(buf, int64(hdr.MetadataOffset)); err != nil {
		return nil, false, util.Wrap(util.KindCorruptHeader, "read metadata trailer", err)
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	body := buf[4 : 4+n]
	var tr trailer
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, false, util.Wrap(util.KindCorruptHeader, "parse metadata trailer", err)
	}
	return tr.Collections, true, nil
}

// ForEachRecord walks every record in the append-only data region in
// on-disk order (offset ascending), live and tombstone alike, stopping at
// the current data tail. The compactor uses this to distinguish
// documents_scanned (every record ever written) from documents_kept (only
// those the catalog still points at).
func (pf *File) ForEachRecord(fn func(offset int64, doc Document, tombstone bool) error) error {
	pf.mu.Lock()
	f := pf.f
	end := pf.dataEnd
	pf.mu.Unlock()

	offset := int64(HeaderSize)
	for offset < end {
		var lenBuf [4]byte
		if _, err := f.ReadAt(lenBuf[:], offset); err != nil {
			return util.Wrap(util.KindCorruptRecord, fmt.Sprintf("read length at %d", offset), err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		if n == 0 || n > 64<<20 {
			return util.Wrap(util.KindCorruptRecord, fmt.Sprintf("implausible record length %d at %d", n, offset), nil)
		}
		payload := make([]byte, n)
		if _, err := f.ReadAt(payload, offset+4); err != nil {
			return util.Wrap(util.KindCorruptRecord, fmt.Sprintf("read payload at %d", offset), err)
		}
		tombstone := payload[0] == recordFlagTombstone
		v, off, err := DecodeValue(payload, 1)
		if err != nil {
			return err
		}
		if off != len(payload) || v.Kind() != KindMap {
			return util.Wrap(util.KindCorruptRecord, fmt.Sprintf("malformed record at %d", offset), nil)
		}
		if err := fn(offset, v.Map(), tombstone); err != nil {
			return err
		}
		offset += 4 + int64(n)
	}
	return nil
}

func (pf *File) Sync() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if err := pf.f.Sync(); err != nil {
		return util.Wrap(util.KindIoError, "fsync primary file", err)
	}
	return nil
}

func (pf *File) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if err := pf.f.Sync(); err != nil {
		pf.f.Close()
		return util.Wrap(util.KindIoError, "fsync on close", err)
	}
	return pf.f.Close()
}

// Size reports the current on-disk file size, used by stats() and the
// compactor's size_before/size_after report.
func (pf *File) Size() (int64, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	info, err := pf.f.Stat()
	if err != nil {
		return 0, util.Wrap(util.KindIoError, "stat primary file", err)
	}
	return info.Size(), nil
}

// Path returns the primary file's path on disk.
func (pf *File) Path() string { return pf.path }
