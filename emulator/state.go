package emulator

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wnxd/microxe/encoding"
	"github.com/wnxd/microxe/kernel"
)

const (
	snapshotMagic    = 0x58534156 // XSAV
	snapshotCapacity = 1 << 30
)

type snapshotHeader struct {
	Magic   uint32
	TitleID *uint32
}

type subsystem struct {
	name    string
	save    func(encoding.Stream) error
	restore func(encoding.Stream) error
}

// subsystems lists the serializers in snapshot order. Later entries may
// assume earlier ones are already consistent.
func (e *Emulator) subsystems() []subsystem {
	list := []subsystem{
		{"processor", e.proc.Save, e.proc.Restore},
		{"graphics", e.graphics.Save, e.graphics.Restore},
	}
	if e.audio != nil {
		list = append(list, subsystem{"audio", e.audio.Save, e.audio.Restore})
	}
	return append(list,
		subsystem{"kernel", e.kernel.Save, e.kernel.Restore},
		subsystem{"memory", e.mem.Save, e.mem.Restore},
	)
}

// Save writes a snapshot of the whole machine to stream. Guest threads are
// paused for the duration.
func (e *Emulator) Save(stream encoding.Stream) error {
	if e.kernel == nil {
		return ErrNotSetup
	}
	e.Pause()
	defer e.Resume()

	header := snapshotHeader{Magic: snapshotMagic}
	if id, ok := e.TitleID(); ok {
		header.TitleID = &id
	}
	if err := encoding.Encode(stream, &header); err != nil {
		return fmt.Errorf("%w: header: %w", ErrUnsuccessful, err)
	}
	for _, sub := range e.subsystems() {
		if err := sub.save(stream); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnsuccessful, sub.name, err)
		}
	}
	return nil
}

// SaveToFile encodes a snapshot directly into a mapping of path, which is
// created if missing and truncated to the encoded length.
func (e *Emulator) SaveToFile(path string) (err error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	if err = file.Truncate(snapshotCapacity); err != nil {
		return err
	}
	region, err := mmap.MapRegion(file, snapshotCapacity, mmap.RDWR, 0, 0)
	if err != nil {
		file.Truncate(0)
		return err
	}
	stream := encoding.NewByteStream(region, binary.BigEndian)
	err = e.Save(stream)
	if err == nil {
		err = region.Flush()
	}
	err = multierr.Append(err, region.Unmap())
	size := int64(stream.Offset())
	if err != nil {
		size = 0
	}
	if terr := file.Truncate(size); err == nil {
		err = terr
	}
	if err != nil {
		return err
	}
	e.logger.Info("state saved", zap.String("path", path), zap.Int64("size", size))
	return nil
}

// Restore replaces the running title with the snapshot in stream. The
// snapshot must belong to the title currently open. On failure the machine
// stays paused.
func (e *Emulator) Restore(stream encoding.Stream) (err error) {
	if e.kernel == nil {
		return ErrNotSetup
	}
	e.restoring.Store(true)
	e.restoreFence.Arm()
	defer func() {
		if err != nil {
			e.restoring.Store(false)
			e.restoreFence.Signal()
			e.logger.Error("restore failed", zap.Error(err))
		}
	}()

	e.Pause()
	e.kernel.TerminateTitle()

	var header snapshotHeader
	if err = encoding.Decode(stream, &header); err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotCorrupt, err)
	}
	lock := e.kernel.GlobalLock()
	lock.Lock()
	err = e.checkHeader(&header)
	lock.Unlock()
	if err != nil {
		return err
	}

	for _, sub := range e.subsystems() {
		if err = sub.restore(stream); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRestoreFailed, sub.name, err)
		}
	}

	e.kernel.StartThreads()
	var main *kernel.XThread
	for _, thread := range e.threads() {
		if thread.IsMain() {
			main = thread
			break
		}
	}
	e.mu.Lock()
	e.mainThread = main
	clear(e.crashed)
	e.mu.Unlock()

	e.Resume()
	e.restoring.Store(false)
	e.restoreFence.Signal()
	e.logger.Info("state restored")
	return nil
}

func (e *Emulator) RestoreFromFile(path string) (err error) {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	} else if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrSnapshotCorrupt, path)
	}
	region, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, region.Unmap()) }()
	return e.Restore(encoding.NewByteStream(region, binary.BigEndian))
}

func (e *Emulator) checkHeader(header *snapshotHeader) error {
	if header.Magic != snapshotMagic {
		return fmt.Errorf("%w: magic %08X", ErrSnapshotCorrupt, header.Magic)
	}
	id, ok := e.TitleID()
	switch {
	case header.TitleID == nil && !ok:
		return nil
	case header.TitleID != nil && ok && *header.TitleID == id:
		return nil
	case header.TitleID == nil:
		return fmt.Errorf("%w: snapshot has no title, running %08X", ErrTitleMismatch, id)
	case !ok:
		return fmt.Errorf("%w: snapshot title %08X, no title running", ErrTitleMismatch, *header.TitleID)
	}
	return fmt.Errorf("%w: snapshot title %08X, running %08X", ErrTitleMismatch, *header.TitleID, id)
}
