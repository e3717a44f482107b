package main

import (
	"errors"
	"fmt"
	"github.com/nyan233/ramblk"
	"github.com/timtadh/getopt"
	cmap "github.com/zbh255/gocode/container/map"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"sync"
	"time"
)

var ErrorCodes = map[string]int{
	"usage":  0,
	"opts":   1,
	"init":   2,
	"io":     3,
	"verify": 4,
}

var UsageMessage = "stress [options] [boot options]"
var ExtendedMessage = `
stress hammers a set of RAM disks with random sector aligned writes from
many workers, then reads everything back and compares it with what was
written.

Options
    -h, --help                 print this message
    -n, --devices=<int>        number of devices (default 4)
    -s, --size=<KiB>           size of every device in KiB (default 4096)
    -p, --max-part=<int>       minors per device (default 1)
    -m, --max-pages=<int>      page limit across all devices (default unbounded)
    -w, --workers=<int>        writers per device (default 4)
    -o, --ops=<int>            writes per worker (default 10000)
    -v, --verbose              log at debug level

Boot options
    ramdisk_size=<KiB>         same as --size, accepts 0x and 0 prefixes
`

func Usage(code int) {
	fmt.Fprintln(os.Stderr, UsageMessage)
	if code == 0 {
		fmt.Fprintln(os.Stderr, ExtendedMessage)
	} else {
		fmt.Fprintln(os.Stderr, "Try -h or --help for help")
	}
	os.Exit(code)
}

func parseInt(opt, arg string) int {
	v, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", opt, err)
		Usage(ErrorCodes["opts"])
	}
	return v
}

// journal remembers the fill byte last written to every sector of a device.
type journal struct {
	mu      sync.Mutex
	sectors *cmap.BTreeMap[uint64, byte]
}

func newJournal() *journal {
	return &journal{sectors: cmap.NewBtreeMap[uint64, byte](64)}
}

func (j *journal) record(sector, count uint64, v byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := uint64(0); i < count; i++ {
		j.sectors.StoreOk(sector+i, v)
	}
}

func (j *journal) lookup(sector uint64) (byte, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sectors.LoadOk(sector)
}

// worker owns the sectors [base, base+span) of d, so the journal never sees
// two writers racing on one sector.
func worker(d *ramblk.Device, j *journal, base, span uint64, ops int, maxRun uint64) error {
	buf := make([]byte, maxRun*ramblk.SectorSize)
	for i := 0; i < ops; i++ {
		n := 1 + rand.Uint64N(min(maxRun, span))
		sector := base + rand.Uint64N(span-n+1)
		v := byte(1 + rand.IntN(255))
		data := buf[:n*ramblk.SectorSize]
		for k := range data {
			data[k] = v
		}
		if err := d.WriteSectors(sector, data); err != nil {
			if errors.Is(err, ramblk.ErrNoSpace) {
				return nil
			}
			return err
		}
		j.record(sector, n, v)
	}
	return nil
}

func verify(d *ramblk.Device, j *journal) (checked uint64, err error) {
	sector := make([]byte, ramblk.SectorSize)
	for s := uint64(0); s < d.Capacity(); s++ {
		if err = d.ReadSectors(s, sector); err != nil {
			return checked, err
		}
		want, ok := j.lookup(s)
		if !ok {
			want = 0
		}
		for _, b := range sector {
			if b != want {
				return checked, fmt.Errorf("%s sector %d : got %#x, want %#x", d.Name(), s, b, want)
			}
		}
		checked++
	}
	return checked, nil
}

func main() {
	short := "hn:s:p:m:w:o:v"
	long := []string{
		"help", "devices=", "size=", "max-part=", "max-pages=", "workers=", "ops=", "verbose",
	}

	args, optargs, err := getopt.GetOpt(os.Args[1:], short, long)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		Usage(ErrorCodes["opts"])
	}

	cfg := ramblk.Config{DeviceCount: 4}
	workers, ops := 4, 10000
	level := slog.LevelInfo
	for _, oa := range optargs {
		switch oa.Opt() {
		case "-h", "--help":
			Usage(0)
		case "-n", "--devices":
			cfg.DeviceCount = parseInt(oa.Opt(), oa.Arg())
		case "-s", "--size":
			size, err := ramblk.ParseRamdiskSize(oa.Arg())
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				Usage(ErrorCodes["opts"])
			}
			cfg.DeviceSizeKiB = size
		case "-p", "--max-part":
			cfg.MaxPart = parseInt(oa.Opt(), oa.Arg())
		case "-m", "--max-pages":
			cfg.MaxPages = uint64(parseInt(oa.Opt(), oa.Arg()))
		case "-w", "--workers":
			workers = parseInt(oa.Opt(), oa.Arg())
		case "-o", "--ops":
			ops = parseInt(oa.Opt(), oa.Arg())
		case "-v", "--verbose":
			level = slog.LevelDebug
		}
	}
	for _, arg := range args {
		ok, err := cfg.ApplyBootOption(arg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			Usage(ErrorCodes["opts"])
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown boot option %q\n", arg)
			Usage(ErrorCodes["opts"])
		}
	}
	if workers <= 0 || ops < 0 {
		fmt.Fprintln(os.Stderr, "workers must be positive and ops must not be negative")
		Usage(ErrorCodes["opts"])
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	r, err := ramblk.NewRegistry(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ErrorCodes["init"])
	}
	defer r.Close()

	devices := r.List()
	journals := make([]*journal, len(devices))
	start := time.Now()
	var g errgroup.Group
	for i, d := range devices {
		journals[i] = newJournal()
		span := d.Capacity() / uint64(workers)
		if span == 0 {
			continue
		}
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				return worker(d, journals[i], uint64(w)*span, span, ops, 64)
			})
		}
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ErrorCodes["io"])
	}
	fmt.Println("write duration", time.Since(start).Seconds())

	start = time.Now()
	for i, d := range devices {
		checked, err := verify(d, journals[i])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(ErrorCodes["verify"])
		}
		st := d.Stat()
		fmt.Println(d.Name(), "sectors", checked, "pages", st.Pages, "mapped", st.MappedBytes,
			"hits", st.PageHit, "holes", st.PageHole, "races", st.InsertRace)
	}
	fmt.Println("verify duration", time.Since(start).Seconds())
	if len(journals) > 0 {
		fmt.Println(devices[0].Name(), "sectors written", journals[0].sectors.Len())
	}
}
