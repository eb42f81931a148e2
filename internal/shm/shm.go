// Package shm provides the shared-memory command block exchanged with the
// external jt9 decoder process.
//
// The block lives in a /dev/shm segment named after the handshake key the
// decoder is started with. It is allocated once at startup, reused for
// every decode cycle, and finalized exactly once at shutdown. The segment
// is the single point of mutable state shared with the decoder, so every
// mutation must happen while the segment lock is held.
package shm

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// AudioCapacity is the size of the audio snapshot region in samples,
// sized to the longest supported window at the fixed sample rate.
const AudioCapacity = 60 * 12000

// Control word indices in the Ipc array.
const (
	IpcSymbols = 0 // symbol count for this decode request
	IpcCommand = 1 // decode request / busy / terminate
	IpcAck     = 2 // requester acknowledgment
)

// IpcCommand values.
const (
	CommandDone      = 0   // decoder has consumed the request
	CommandDecode    = 1   // request a decode
	CommandTerminate = 999 // terminal, one-shot
)

// IpcAck values.
const (
	AckPending = -1
	AckDone    = 1
)

// Params carries the per-request decode parameters.
type Params struct {
	NUTC     int32 // UTC of this request as HHMM
	NDiskDat int32 // nonzero when audio came from a file
	TRPeriod int32 // cycle length in seconds
	NewDat   int32 // nonzero forces the decoder to drop cached spectra
	FreqLow  int32 // low decode limit (Hz)
	FreqHigh int32 // high decode limit (Hz)
	KIn      int32 // valid samples in the audio region
	Depth    int32 // decoding depth 1-3
	Mode     int32 // jt9 mode code
	MultiFT8 int32 // nonzero enables multithreaded FT8
	MyCall   [12]byte
	MyGrid   [6]byte
}

// Block is the shared command/result structure. The layout must stay
// stable across processes attaching to the same segment.
type Block struct {
	Ipc    [3]int32
	Params Params
	Audio  [AudioCapacity]int16
}

// BlockSize is the byte size of the mapped structure.
const BlockSize = int(unsafe.Sizeof(Block{}))

// Segment is a mapped shared-memory block plus its lock.
type Segment struct {
	mu    sync.Mutex
	key   string
	fd    int
	data  []byte
	block *Block
}

func shmPath(key string) string {
	return "/dev/shm/" + key
}

// Create allocates a fresh segment for the given key, replacing any stale
// segment left behind by a previous run.
func Create(key string) (*Segment, error) {
	path := shmPath(key)

	// A crashed run leaves its segment behind; remove it rather than
	// attaching to stale state.
	if err := unix.Unlink(path); err != nil && err != unix.ENOENT {
		return nil, fmt.Errorf("unlink stale shm: %w", err)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open shm: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(BlockSize)); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("ftruncate shm: %w", err)
	}

	data, err := unix.Mmap(fd, 0, BlockSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("mmap shm: %w", err)
	}

	s := &Segment{
		key:   key,
		fd:    fd,
		data:  data,
		block: (*Block)(unsafe.Pointer(&data[0])),
	}
	s.block.Ipc[IpcCommand] = CommandDone
	s.block.Ipc[IpcAck] = AckDone

	return s, nil
}

// Open attaches to an existing segment. This is the path an external
// reader takes; the decoder driver itself always creates.
func Open(key string) (*Segment, error) {
	path := shmPath(key)

	fd, err := unix.Open(path, unix.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open shm: %w", err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fstat shm: %w", err)
	}
	if stat.Size < int64(BlockSize) {
		unix.Close(fd)
		return nil, fmt.Errorf("shm segment too small: %d bytes, expected %d", stat.Size, BlockSize)
	}

	data, err := unix.Mmap(fd, 0, BlockSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap shm: %w", err)
	}

	return &Segment{
		key:   key,
		fd:    fd,
		data:  data,
		block: (*Block)(unsafe.Pointer(&data[0])),
	}, nil
}

// Key returns the segment name the decoder attaches with.
func (s *Segment) Key() string {
	return s.key
}

// WithLock runs fn with exclusive access to the block.
func (s *Segment) WithLock(fn func(*Block)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.block)
}

// Close unmaps and removes the segment. Safe to call once per segment on
// every exit path.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}

	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("munmap shm: %w", err)
	}
	s.data = nil
	s.block = nil

	unix.Close(s.fd)

	if err := unix.Unlink(shmPath(s.key)); err != nil && err != unix.ENOENT {
		return fmt.Errorf("unlink shm: %w", err)
	}
	return nil
}
