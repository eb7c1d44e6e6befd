// Package device runs a simulated peripheral: a clocked register bank plus
// the host-side harvest loop that brings the core up, waits for readiness
// and collects samples into the journal.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/tevino/abool"

	"github.com/tinysil/upt/core"
	"github.com/tinysil/upt/entropy"
	"github.com/tinysil/upt/journal"
	"github.com/tinysil/upt/regfile"
)

var (
	tickCount     = vm.NewCounter("upt_ticks_total")
	sampleCount   = vm.NewCounter("upt_samples_total")
	journalErrors = vm.NewCounter("upt_journal_errors_total")
)

// ErrAlreadyRunning is returned when Run is called on a running device.
var ErrAlreadyRunning = errors.New("device is already running")

// Options configure a simulated peripheral instance.
type Options struct {
	TickInterval time.Duration

	Mode        entropy.Mode
	Trigger     uint64
	Sel1        uint64
	Sel2        uint64
	Mask        uint64
	Seed        uint64
	CalibCycles uint32

	// NewCell builds the entropy cell for each channel; nil uses the
	// deterministic stand-in. This is the noise-source substitution
	// point surfaced to integrators.
	NewCell func(channel int) (entropy.Cell, error)

	// JournalPath enables sample persistence when non-empty.
	JournalPath string

	// Harvest keeps requesting samples once the core is ready.
	Harvest bool
}

// harvester phases, host side of the handshake.
type phase uint8

const (
	phaseProgram phase = iota
	phaseSeed
	phaseLaunch
	phaseWaitReady
	phaseRequest
	phaseCollect
	phaseIdle
)

// Device is a running peripheral simulation.
type Device struct {
	opts    Options
	bank    *regfile.Bank
	journal *journal.Journal
	running *abool.AtomicBool

	mu        sync.Mutex
	subs      map[chan journal.Record]struct{}
	collected uint64

	phase     phase
	seedTicks int
}

// New builds a device from the given options.
func New(opts Options) (*Device, error) {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Millisecond
	}

	newCell := opts.NewCell
	if newCell == nil {
		newCell = func(int) (entropy.Cell, error) {
			return entropy.StaticCell{}, nil
		}
	}
	fabric, err := entropy.NewFabric(newCell)
	if err != nil {
		return nil, fmt.Errorf("build fabric: %w", err)
	}

	d := &Device{
		opts:    opts,
		bank:    regfile.New(core.New(fabric)),
		running: abool.New(),
		subs:    make(map[chan journal.Record]struct{}),
	}

	if opts.JournalPath != "" {
		d.journal, err = journal.Open(opts.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}
	return d, nil
}

// Bank exposes the register file, the host bus view of the device.
func (d *Device) Bank() *regfile.Bank {
	return d.bank
}

// Run drives the clock until ctx is canceled.
func (d *Device) Run(ctx context.Context) error {
	if !d.running.SetToIf(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.UnSet()

	log.WithFields(log.Fields{
		"interval": d.opts.TickInterval,
		"mode":     d.opts.Mode,
	}).Info("upt device starting")

	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("upt device stopping")
			return nil
		case <-ticker.C:
			d.step()
		}
	}
}

// IsRunning reports whether the clock loop is active.
func (d *Device) IsRunning() bool {
	return d.running.IsSet()
}

// step advances the clock by one tick and the harvester with it.
func (d *Device) step() {
	out := d.bank.Step()
	tickCount.Inc()

	ready, _ := d.bank.Read(regfile.RegStatus)
	isReady := ready&regfile.StatusReady != 0

	switch d.phase {
	case phaseProgram:
		d.program()
		if d.opts.Mode == entropy.PUF {
			d.phase = phaseSeed
			d.seedTicks = 0
		} else {
			d.phase = phaseLaunch
		}

	case phaseSeed:
		// hold initialize for a couple of ticks so the challenge lands
		d.seedTicks++
		if d.seedTicks >= 2 {
			d.writeControl(regfile.CtrlEnable | d.modeBit())
			d.phase = phaseLaunch
		}

	case phaseLaunch:
		d.writeControl(regfile.CtrlEnable | d.modeBit() | regfile.CtrlCalib)
		d.phase = phaseWaitReady

	case phaseWaitReady:
		if isReady {
			log.WithField("ring_state", fmt.Sprintf("%#016x", out.RingState)).
				Debug("calibration complete")
			if d.opts.Harvest {
				d.phase = phaseRequest
			} else {
				d.phase = phaseIdle
			}
		}

	case phaseRequest:
		_ = d.bank.Write(regfile.RegReadout, regfile.ReadRequest)
		d.phase = phaseCollect

	case phaseCollect:
		if isReady {
			_ = d.bank.Write(regfile.RegReadout, 0)
			d.record(out)
			d.phase = phaseWaitReady
		}

	case phaseIdle:
	}
}

func (d *Device) modeBit() uint32 {
	if d.opts.Mode == entropy.PUF {
		return regfile.CtrlMode
	}
	return 0
}

func (d *Device) writeControl(v uint32) {
	_ = d.bank.Write(regfile.RegControl, v)
}

// program writes the full register setup: vectors, seed, calibration
// cycles, then enables the core (with initialize held in PUF mode).
func (d *Device) program() {
	b := d.bank
	_ = b.Write(regfile.RegTrigger0, uint32(d.opts.Trigger))
	_ = b.Write(regfile.RegTrigger1, uint32(d.opts.Trigger>>32))
	_ = b.Write(regfile.RegSel1Lo, uint32(d.opts.Sel1))
	_ = b.Write(regfile.RegSel1Hi, uint32(d.opts.Sel1>>32))
	_ = b.Write(regfile.RegSel2Lo, uint32(d.opts.Sel2))
	_ = b.Write(regfile.RegSel2Hi, uint32(d.opts.Sel2>>32))
	_ = b.Write(regfile.RegMask0, uint32(d.opts.Mask))
	_ = b.Write(regfile.RegMask1, uint32(d.opts.Mask>>32))
	_ = b.Write(regfile.RegSeed0, uint32(d.opts.Seed))
	_ = b.Write(regfile.RegSeed1, uint32(d.opts.Seed>>32))
	_ = b.Write(regfile.RegCalibCycles, d.opts.CalibCycles)

	ctrl := regfile.CtrlEnable | d.modeBit()
	if d.opts.Mode == entropy.PUF {
		ctrl |= regfile.CtrlInit
	}
	d.writeControl(ctrl)
}

// record journals and publishes one collected sample.
func (d *Device) record(out core.Outputs) {
	lo, _ := d.bank.Read(regfile.RegSample0)
	hi, _ := d.bank.Read(regfile.RegSample1)

	rec := journal.Record{
		Mode:      d.opts.Mode.String(),
		Sample:    uint64(hi)<<32 | uint64(lo),
		RingState: out.RingState,
	}

	if d.journal != nil {
		stored, err := d.journal.Append(rec)
		if err != nil {
			journalErrors.Inc()
			log.WithError(err).Error("could not journal sample")
		} else {
			rec = stored
		}
	}
	sampleCount.Inc()

	d.mu.Lock()
	d.collected++
	for sub := range d.subs {
		select {
		case sub <- rec:
		default: // slow subscribers drop samples
		}
	}
	d.mu.Unlock()

	log.WithFields(log.Fields{
		"sample": fmt.Sprintf("%#016x", rec.Sample),
		"mode":   rec.Mode,
	}).Debug("sample collected")
}

// Subscribe returns a channel receiving every collected sample and a
// cancel function releasing it.
func (d *Device) Subscribe() (<-chan journal.Record, func()) {
	ch := make(chan journal.Record, 16)

	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()

	return ch, func() {
		d.mu.Lock()
		delete(d.subs, ch)
		d.mu.Unlock()
	}
}

// Samples returns the journaled samples, oldest first. Without a journal
// it returns an empty list.
func (d *Device) Samples() ([]journal.Record, error) {
	if d.journal == nil {
		return nil, nil
	}
	return d.journal.List()
}

// Status is a point-in-time view of the device for diagnostics.
type Status struct {
	State     string `json:"state"`
	Ready     bool   `json:"ready"`
	Mode      string `json:"mode"`
	Running   bool   `json:"running"`
	Ticks     uint64 `json:"ticks"`
	Samples   uint64 `json:"samples"`
	Captured  string `json:"captured_entropy"`
	RingState string `json:"ring_state"`
}

// Status returns the current device status.
func (d *Device) Status() Status {
	ready, _ := d.bank.Read(regfile.RegStatus)
	cap0, _ := d.bank.Read(regfile.RegCaptured0)
	cap1, _ := d.bank.Read(regfile.RegCaptured1)
	st0, _ := d.bank.Read(regfile.RegState0)
	st1, _ := d.bank.Read(regfile.RegState1)

	d.mu.Lock()
	collected := d.collected
	d.mu.Unlock()

	return Status{
		State:     d.bank.State().String(),
		Ready:     ready&regfile.StatusReady != 0,
		Mode:      d.opts.Mode.String(),
		Running:   d.running.IsSet(),
		Ticks:     d.bank.Ticks(),
		Samples:   collected,
		Captured:  fmt.Sprintf("%#015x", uint64(cap1)<<32|uint64(cap0)),
		RingState: fmt.Sprintf("%#016x", uint64(st1)<<32|uint64(st0)),
	}
}

// Close releases the journal and any other held resources.
func (d *Device) Close() error {
	var errs *multierror.Error

	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close journal: %w", err))
		}
	}

	d.mu.Lock()
	for sub := range d.subs {
		close(sub)
		delete(d.subs, sub)
	}
	d.mu.Unlock()

	return errs.ErrorOrNil()
}
