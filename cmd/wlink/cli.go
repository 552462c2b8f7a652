package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/wbpf/wlink/internal/wconfig"
	"github.com/wbpf/wlink/internal/wimage"
	"github.com/wbpf/wlink/internal/wlink"
	"github.com/wbpf/wlink/internal/wobj"
)

// RunCLI dispatches to the subcommand named by args[0]. devicePath is the
// -d flag's value, threaded down to subcommands that talk to hardware.
func RunCLI(args []string, devicePath string, log *slog.Logger) error {
	if len(args) == 0 {
		return cmdHelp()
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "link":
		return cmdLink(rest, log)
	case "load":
		return cmdLoad(rest, devicePath, log)
	case "start":
		return cmdStart(rest, devicePath, log)
	case "stop":
		return cmdStop(rest, devicePath, log)
	case "dm-read":
		return cmdDMRead(rest, devicePath, log)
	case "dm-write":
		return cmdDMWrite(rest, devicePath, log)
	case "disasm":
		return cmdDisasm(rest)
	case "help", "-h", "--help":
		return cmdHelp()
	case "version", "--version":
		fmt.Println(versionString)
		return nil
	default:
		return fmt.Errorf("unknown command %q; run 'wlink help' for usage", sub)
	}
}

// cmdLink runs the full local+global linker pipeline (spec §4) over the
// object files and metadata named by a wconfig YAML file, and writes the
// serialized image to cfg.Output.
func cmdLink(args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("link", flag.ContinueOnError)
	configPath := fs.String("c", "", "path to the link configuration YAML file (required)")
	outOverride := fs.String("o", "", "override the configuration's output path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("usage: wlink link -c <config.yaml> [-o output]")
	}

	cfg, err := wconfig.ParseFile(*configPath)
	if err != nil {
		return err
	}
	output := cfg.Output
	if *outOverride != "" {
		output = *outOverride
	}

	objects := make([]*wobj.Object, 0, len(cfg.Objects))
	for _, path := range cfg.Objects {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading object %q: %w", path, err)
		}
		obj, err := wobj.Link(path, raw, log)
		if err != nil {
			return fmt.Errorf("local-linking %q: %w", path, err)
		}
		objects = append(objects, obj)
	}

	linker := wlink.New(objects, cfg.LinkerOptions(log))
	img, err := linker.Link()
	if err != nil {
		return fmt.Errorf("linking: %w", err)
	}

	if err := os.WriteFile(output, wimage.Encode(img), 0o644); err != nil {
		return fmt.Errorf("writing image %q: %w", output, err)
	}
	log.Info("link complete", "output", output, "functions", len(img.OffsetTable.FuncOffsets), "codeBytes", len(img.Code), "dataBytes", len(img.Data))
	return nil
}

// cmdDisasm decodes and prints an image's code section, for debugging
// (spec §2: disassembly is explicitly outside the linker's production
// surface, but useful from the CLI).
func cmdDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ContinueOnError)
	input := fs.String("i", "", "path to a linked image (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("usage: wlink disasm -i <image>")
	}
	raw, err := os.ReadFile(*input)
	if err != nil {
		return fmt.Errorf("reading image %q: %w", *input, err)
	}
	img, err := wimage.Decode(raw)
	if err != nil {
		return fmt.Errorf("decoding image %q: %w", *input, err)
	}
	fmt.Print(wimage.Disassemble(img))
	return nil
}

// cmdLoad loads an image's code onto a processing element, per spec §6's
// runner contract: loading happens before the machine-state descriptor
// is written and the PE is started.
func cmdLoad(args []string, devicePath string, log *slog.Logger) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	input := fs.String("i", "", "path to a linked image (required)")
	peIndex := fs.Uint("pe", 0, "processing element index")
	offset := fs.Uint("offset", 0, "byte offset within instruction memory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("usage: wlink load -i <image> [-pe N] [-offset N]")
	}

	raw, err := os.ReadFile(*input)
	if err != nil {
		return fmt.Errorf("reading image %q: %w", *input, err)
	}
	img, err := wimage.Decode(raw)
	if err != nil {
		return fmt.Errorf("decoding image %q: %w", *input, err)
	}

	dev, err := openDevice(devicePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.LoadCode(uint32(*peIndex), uint32(*offset), img.Code); err != nil {
		return err
	}
	log.Info("loaded code", "pe", *peIndex, "offset", *offset, "bytes", len(img.Code))
	return nil
}

// cmdStart begins execution on a processing element at the given entry
// point, after writing the machine-state descriptor per spec §6.
func cmdStart(args []string, devicePath string, log *slog.Logger) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	peIndex := fs.Uint("pe", 0, "processing element index")
	pc := fs.Uint("pc", 0, "initial program counter")
	entryOffset := fs.Int("entry-offset", -1, "entry function's byte offset (func_offsets[entry_point]); skips writing machine state when omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dev, err := openDevice(devicePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	if *entryOffset >= 0 {
		var regs [11]int64
		if err := dev.DataMemory().WriteMachineState(regs, int32(*entryOffset)); err != nil {
			return fmt.Errorf("writing machine state: %w", err)
		}
	}

	if err := dev.Start(uint32(*peIndex), uint32(*pc)); err != nil {
		return err
	}
	log.Info("started", "pe", *peIndex, "pc", *pc)
	return nil
}

// cmdStop halts execution on a processing element.
func cmdStop(args []string, devicePath string, log *slog.Logger) error {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	peIndex := fs.Uint("pe", 0, "processing element index")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dev, err := openDevice(devicePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.Stop(uint32(*peIndex)); err != nil {
		return err
	}
	log.Info("stopped", "pe", *peIndex)
	return nil
}

// cmdDMRead reads data memory and writes it to a file (or stdout).
func cmdDMRead(args []string, devicePath string, log *slog.Logger) error {
	fs := flag.NewFlagSet("dm-read", flag.ContinueOnError)
	output := fs.String("o", "", "output file path (default: stdout)")
	offset := fs.Uint("offset", 0, "data memory byte offset")
	size := fs.Uint("size", 0, "number of bytes to read (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *size == 0 {
		return fmt.Errorf("usage: wlink dm-read -size <N> [-offset N] [-o file]")
	}

	dev, err := openDevice(devicePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	buf := make([]byte, *size)
	if err := dev.DataMemory().Read(uint32(*offset), buf); err != nil {
		return err
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("creating output file %q: %w", *output, err)
		}
		defer f.Close()
		out = f
	}
	if _, err := out.Write(buf); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	log.Info("read data memory", "offset", *offset, "bytes", len(buf))
	return nil
}

// cmdDMWrite writes a file's contents into data memory.
func cmdDMWrite(args []string, devicePath string, log *slog.Logger) error {
	fs := flag.NewFlagSet("dm-write", flag.ContinueOnError)
	input := fs.String("i", "", "input file path (required)")
	offset := fs.Uint("offset", 0, "data memory byte offset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("usage: wlink dm-write -i <file> [-offset N]")
	}

	data, err := os.ReadFile(*input)
	if err != nil {
		return fmt.Errorf("reading input file %q: %w", *input, err)
	}

	dev, err := openDevice(devicePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.DataMemory().Write(uint32(*offset), data); err != nil {
		return err
	}
	log.Info("wrote data memory", "offset", *offset, "bytes", len(data))
	return nil
}

func cmdHelp() error {
	fmt.Print(`wlink - wBPF static linker and device control

USAGE:
    wlink <command> [arguments]

COMMANDS:
    link -c <config.yaml> [-o output]   Link objects into a wBPF image
    disasm -i <image>                   Disassemble an image's code section
    load -i <image> [-pe N] [-offset N] Load an image's code onto a PE
    start [-pe N] [-pc N]               Start execution on a PE
    stop [-pe N]                        Stop execution on a PE
    dm-read -size <N> [-offset N] [-o]  Read data memory
    dm-write -i <file> [-offset N]      Write data memory
    help                                Show this help message
    version                             Show version information

FLAGS (global, must come before the command):
    -d <path>    Path to the wBPF character device (default: $WBPF_DEVICE)
    -v           Verbose mode (debug-level logging)
    -q           Quiet mode (errors only)

EXAMPLES:
    wlink link -c wlink.yaml
    wlink -d /dev/wbpf0 load -i a.wimg -pe 0
    wlink -d /dev/wbpf0 start -pe 0 -entry-offset 104
`)
	return nil
}
