package main

import (
	"bytes"
	"fmt"
	"github.com/nyan233/ramblk"
	"log/slog"
	"os"
)

func main() {
	// two 1MiB devices, ram0 and ram1
	r, err := ramblk.NewRegistry(ramblk.Config{
		DeviceCount:   2,
		DeviceSizeKiB: 1024,
		Logger:        slog.New(slog.NewTextHandler(os.Stdout, nil)),
	})
	if err != nil {
		panic(err)
	}
	// write 4KiB starting at sector 4, the data crosses a page boundary
	data := bytes.Repeat([]byte{0xab}, ramblk.PageSize)
	err = r.Submit(0, ramblk.NewBio(ramblk.OpWrite, 4, data))
	if err != nil {
		panic(fmt.Errorf("write err:%v", err))
	}
	// never written sectors read as zero
	buf := make([]byte, 2*ramblk.PageSize)
	err = r.Submit(0, ramblk.NewBio(ramblk.OpRead, 0, buf))
	if err != nil {
		panic(fmt.Errorf("read err:%v", err))
	}
	fmt.Printf("head=%x mid=%x tail=%x\n", buf[0], buf[2048], buf[len(buf)-1])
	for _, d := range r.List() {
		st := d.Stat()
		fmt.Printf("%s sectors=%d pages=%d mapped=%d\n", d.Name(), d.Capacity(), st.Pages, st.MappedBytes)
	}
	// device 5 is created on first access
	d, isNew, err := r.Probe(5)
	if err != nil {
		panic(err)
	}
	fmt.Printf("probe %s new=%v\n", d.Name(), isNew)
	err = r.Close()
	if err != nil {
		panic(fmt.Errorf("close err:%v", err))
	}
}
