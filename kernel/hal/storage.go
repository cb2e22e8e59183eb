package hal

import "helium/kernel/errors"

// Errors a Storage implementation reports for contract violations; device
// level failures (error bits, timeouts) surface as their own values.
var (
	// ErrUnalignedAccess is returned by Read/Write when offset or buffer
	// length is not a multiple of the sector size.
	ErrUnalignedAccess = errors.KernelError("offset or length not sector aligned")

	// ErrShortScratch is returned by the unaligned variants when scratch
	// is smaller than one sector.
	ErrShortScratch = errors.KernelError("scratch buffer smaller than one sector")
)

// Storage is implemented by block-addressable storage devices (ATA, AHCI,
// ramdisk, ...). Callers needing to read or write at an offset that doesn't
// fall on a sector boundary use ReadUnaligned/WriteUnaligned, which stage
// the partial sectors through scratch rather than requiring every caller to
// duplicate that dance.
type Storage interface {
	// SectorSize returns the device's native sector size in bytes.
	SectorSize() uint32

	// Read fills buf starting at the given byte offset; offset and
	// len(buf) must be multiples of SectorSize (ErrUnalignedAccess
	// otherwise).
	Read(offset uint64, buf []byte) error

	// Write stores buf starting at the given byte offset; offset and
	// len(buf) must be multiples of SectorSize (ErrUnalignedAccess
	// otherwise).
	Write(offset uint64, buf []byte) error

	// ReadUnaligned reads len(buf) bytes starting at an arbitrary byte
	// offset, using scratch (at least SectorSize bytes, ErrShortScratch
	// otherwise) to stage the sectors straddling offset and
	// offset+len(buf).
	ReadUnaligned(offset uint64, buf, scratch []byte) error

	// WriteUnaligned writes buf at an arbitrary byte offset, read-
	// modify-writing the boundary sectors through scratch (at least
	// SectorSize bytes, ErrShortScratch otherwise).
	WriteUnaligned(offset uint64, buf, scratch []byte) error
}
