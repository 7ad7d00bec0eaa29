package partbuffer

import (
	"io"

	"github.com/rescale-labs/streamrelay/internal/constants"
	"github.com/rescale-labs/streamrelay/internal/events"
	"github.com/rescale-labs/streamrelay/internal/models"
	"github.com/rescale-labs/streamrelay/internal/util/buffers"
)

// Part is a filled part ready for the Upload Scheduler: bytes is exactly
// the part's true length (capacity for every non-final part, possibly
// shorter for the final one), never the backing buffer's full capacity.
type Part struct {
	PartNumber int32
	Bytes      []byte

	// release returns the backing buffer to the pool once the Scheduler
	// (and Object-Store Client beneath it) are done with it.
	release func()
}

// Release returns this part's backing buffer to the pool. Safe to call
// once, after the part's upload has been acknowledged.
func (p Part) Release() {
	if p.release != nil {
		p.release()
	}
}

// Splitter consumes an io.Reader and emits Parts of a fixed size P,
// using one pre-allocated buffer per in-flight part -- no reallocation
// or concatenation on the hot path (§4.C's hot-path contract).
type Splitter struct {
	reader     io.Reader
	pool       *buffers.Pool
	partSize   int64
	partNumber int32

	current    *[]byte
	offset     int64
	progressCh chan<- events.Progress
	totalBytes int64

	// chunk is the fixed read buffer; pending is the not-yet-copied tail
	// of the most recent chunk, and err is a read error deferred until
	// pending has been fully absorbed into parts.
	chunk   []byte
	pending []byte
	err     error

	bytesTransferred int64
}

// NewSplitter constructs a Splitter reading from r, handing off parts of
// partSize bytes. progressCh receives one events.Progress per chunk
// consumed (may be nil to disable progress events, e.g. in unit tests
// that don't exercise the Progress Publisher).
func NewSplitter(r io.Reader, partSize int64, totalBytes int64, progressCh chan<- events.Progress) *Splitter {
	return &Splitter{
		reader:     r,
		pool:       buffers.NewPool(int(partSize)),
		partSize:   partSize,
		partNumber: constants.FirstPartNum,
		totalBytes: totalBytes,
		progressCh: progressCh,
		chunk:      make([]byte, readChunkSize),
	}
}

// readChunkSize bounds a single Read call; it does not change the part
// size, only how many bytes are requested from the underlying reader at
// a time.
const readChunkSize = 1 << 20 // 1 MiB

// Next drives the stream until a part is ready, end-of-stream is
// reached, or an error occurs. It returns (part, false, nil) when a part
// was handed off, (Part{}, true, nil) at clean end-of-stream with no
// further part, and a models.TransferError otherwise.
//
// Implements the hot-path contract of §4.C: every chunk is copied
// directly into the current backing region at its write cursor; no
// container grows per chunk. A chunk larger than the remaining room in
// the current part stays parked in pending and is absorbed across as
// many parts as it spans.
func (s *Splitter) Next() (Part, bool, error) {
	for {
		if part, handed := s.fill(); handed {
			return part, false, nil
		}

		// pending fully absorbed; surface any deferred read error.
		if s.err != nil {
			if s.err == io.EOF {
				return s.finalPart()
			}
			return Part{}, false, classifyStreamErr(s.err)
		}

		n, err := s.reader.Read(s.chunk)
		if n > 0 {
			s.pending = s.chunk[:n]
			s.bytesTransferred += int64(n)
			s.emitProgress()
		}
		if err != nil {
			s.err = err
		}
	}
}

// fill copies pending bytes into the current backing region at its write
// cursor, per step 1 of the hot-path contract, stopping as soon as one
// part completes so the caller can hand it off before the next one
// starts filling.
func (s *Splitter) fill() (Part, bool) {
	for len(s.pending) > 0 {
		if s.current == nil {
			s.current = s.pool.Get()
			s.offset = 0
		}
		room := s.partSize - s.offset
		n := int64(len(s.pending))
		if n > room {
			n = room
		}
		copy((*s.current)[s.offset:s.offset+n], s.pending[:n])
		s.offset += n
		s.pending = s.pending[n:]

		if s.offset == s.partSize {
			return s.handOff(), true
		}
	}
	return Part{}, false
}

func (s *Splitter) handOff() Part {
	buf := s.current
	partNum := s.partNumber
	p := Part{
		PartNumber: partNum,
		Bytes:      (*buf)[:s.offset],
		release: func() {
			s.pool.Put(buf)
		},
	}
	s.partNumber++
	s.current = nil
	s.offset = 0
	return p
}

// finalPart handles end-of-stream (§4.C): a non-empty current buffer is
// handed off as the final (possibly short) part; an empty buffer on the
// very first part means the source produced zero bytes.
func (s *Splitter) finalPart() (Part, bool, error) {
	if s.offset > 0 {
		return s.handOff(), false, nil
	}
	if s.partNumber == constants.FirstPartNum {
		return Part{}, true, models.NewTransferError(models.KindSourceEmpty, "source produced zero bytes", false, nil)
	}
	return Part{}, true, nil
}

func (s *Splitter) emitProgress() {
	if s.progressCh == nil {
		return
	}
	s.progressCh <- events.Progress{BytesTransferred: s.bytesTransferred, TotalBytes: s.totalBytes}
}

// BytesTransferred returns the running total consumed from the reader so
// far, monotonically non-decreasing per §3.
func (s *Splitter) BytesTransferred() int64 {
	return s.bytesTransferred
}

func classifyStreamErr(err error) error {
	return models.NewTransferError(models.KindStreaming, err.Error(), true, err)
}
