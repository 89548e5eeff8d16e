package flag

import (
	"errors"
	"fmt"
	"io"

	"github.com/alecthomas/kong"
	"github.com/nmi/minivmm/cpuid"
	"github.com/nmi/minivmm/loader"
	"github.com/nmi/minivmm/probe"
	"github.com/nmi/minivmm/vmm"
	"github.com/sirupsen/logrus"
)

const (
	programName = "minivmm"
	programDesc = "minivmm boots a Linux bzImage on one KVM vCPU and prints its serial console"
)

// CLI is the command line. Every flag can also come from the environment
// or from /etc/minivmm.json and ~/.minivmm.json.
type CLI struct {
	LogLevel  string `help:"log level (${enum})." default:"info" enum:"trace,debug,info,warn,error" env:"MINIVMM_LOG_LEVEL"`
	LogFormat string `help:"log format (${enum})." default:"text" enum:"text,json" env:"MINIVMM_LOG_FORMAT"`

	Boot  BootCMD  `cmd:"" default:"withargs" help:"boot a kernel image (default)."`
	Probe ProbeCMD `cmd:"" help:"report KVM capabilities and supported CPUID features."`
}

type BootCMD struct {
	Kernel     string `arg:"" name:"kernel-image" help:"bzImage to boot."`
	Dev        string `short:"D" default:"/dev/kvm" env:"MINIVMM_DEV" help:"path of kvm device."`
	MemSize    string `name:"mem" short:"m" default:"1G" env:"MINIVMM_MEM" help:"memory size: as number[gGmM], optional units, defaults to G."`
	Params     string `short:"p" default:"${cmdline}" env:"MINIVMM_CMDLINE" help:"kernel command-line parameters."`
	Signature  string `default:"${signature}" env:"MINIVMM_SIGNATURE" help:"12 character hypervisor vendor reported through CPUID."`
	IRQChip    bool   `name:"irqchip" default:"true" negatable:"" help:"create the in-kernel interrupt controllers and PIT. With them KVM handles hlt itself, so a guest halting with interrupts off hangs instead of exiting; use --no-irqchip for such guests."`
	CPUProfile string `name:"cpuprofile" type:"path" placeholder:"DIR" help:"write a CPU profile of the run to DIR."`
}

type ProbeCMD struct {
	Dev string `short:"D" default:"/dev/kvm" env:"MINIVMM_DEV" help:"path of kvm device."`
}

// Env is what commands run against.
type Env struct {
	Stdout io.Writer
	Log    *logrus.Logger
}

// exitCode carries a kong requested exit (e.g. after --help) out of Parse.
type exitCode int

// Run parses args (without the program name), runs the selected command and
// returns the process exit status.
func Run(args []string, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			c, ok := r.(exitCode)
			if !ok {
				panic(r)
			}

			code = int(c)
		}
	}()

	cli := CLI{}

	parser, err := kong.New(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.Writers(stdout, stderr),
		kong.Exit(func(c int) { panic(exitCode(c)) }),
		kong.Configuration(kong.JSON, "/etc/minivmm.json", "~/.minivmm.json"),
		kong.Vars{
			"cmdline":   loader.DefaultCmdline,
			"signature": cpuid.DefaultSignature,
		},
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", programName, err)

		return vmm.ExitFailure
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		var parseErr *kong.ParseError
		if errors.As(err, &parseErr) && parseErr.Context != nil {
			_ = parseErr.Context.PrintUsage(true)
		}

		fmt.Fprintf(stderr, "%s: error: %v\n", programName, err)

		return vmm.ExitFailure
	}

	log, err := newLogger(cli.LogLevel, cli.LogFormat, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", programName, err)

		return vmm.ExitFailure
	}

	err = ctx.Run(&Env{Stdout: stdout, Log: log})
	if err != nil {
		log.WithError(err).Error(ctx.Command())
	}

	return vmm.ExitCode(err)
}

func newLogger(level, format string, w io.Writer) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(w)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	l.SetLevel(lvl)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}

	return l, nil
}

func (d *ProbeCMD) Run(env *Env) error {
	return probe.Report(d.Dev, env.Stdout)
}

func (s *BootCMD) Run(env *Env) error {
	memSize, err := ParseSize(s.MemSize, "g")
	if err != nil {
		return err
	}

	return vmm.Run(vmm.Config{
		Dev:        s.Dev,
		Kernel:     s.Kernel,
		Params:     s.Params,
		MemSize:    memSize,
		Signature:  s.Signature,
		IRQChip:    s.IRQChip,
		CPUProfile: s.CPUProfile,
		Out:        env.Stdout,
		Log:        env.Log,
	})
}
