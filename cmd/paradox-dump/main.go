// Command paradox-dump logs into a Paradox panel through an IP150 and prints
// what it reads.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	paradox "github.com/caarlos0/homekit-paradox"
	logp "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "dump",
})

type flags struct {
	host        string
	port        string
	timeout     time.Duration
	protocolMap string
	debug       bool
}

func main() {
	var f flags
	cmd := &cobra.Command{
		Use:   "paradox-dump",
		Short: "Dump memory, labels and flags of a Paradox panel",
		Long: `Connects to an IP150, logs into the panel and prints what it reads.

The IP150 password is read from PARADOX_IP150_PASSWORD and the PC password
from PARADOX_PC_PASSWORD, or prompted interactively if not set.`,
		Args:          cobra.ExactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if f.debug {
				log.SetLevel(logp.DebugLevel)
				paradox.SetLogLevel(logp.DebugLevel)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&f.host, "host", "", "IP150 address")
	cmd.PersistentFlags().StringVarP(&f.port, "port", "p", paradox.DefaultPort, "IP150 port")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", paradox.DefaultTimeout, "Receive timeout")
	cmd.PersistentFlags().StringVar(&f.protocolMap, "protocol-map", "", "YAML file overriding the protocol offsets")
	cmd.PersistentFlags().BoolVar(&f.debug, "debug", false, "Log every packet")
	_ = cmd.MarkPersistentFlagRequired("host")

	cmd.AddCommand(memoryCommand(&f))
	cmd.AddCommand(labelsCommand(&f))
	cmd.AddCommand(flagsCommand(&f))

	if err := cmd.Execute(); err != nil {
		log.Fatal("failed", "err", err)
	}
}

// connect logs in and returns the client. Callers must close it.
func connect(f *flags) (*paradox.Client, error) {
	opts := paradox.Options{Timeout: f.timeout}
	if f.protocolMap != "" {
		pm, err := paradox.LoadProtocolMap(f.protocolMap)
		if err != nil {
			return nil, err
		}
		opts.Protocol = &pm
	}

	ip150Password, err := secret("PARADOX_IP150_PASSWORD", "IP150 password")
	if err != nil {
		return nil, err
	}
	pcPassword, err := secret("PARADOX_PC_PASSWORD", "PC password")
	if err != nil {
		return nil, err
	}

	log.Info("connecting", "host", f.host, "port", f.port)
	cli, err := paradox.New(f.host, f.port, ip150Password, pcPassword, opts)
	if err != nil {
		return nil, err
	}
	panel := cli.Panel()
	log.Info(
		"logged in",
		"panel", panel.Type,
		"version", panel.Version,
		"serial", panel.SerialNumber,
	)
	return cli, nil
}

// secret reads key from the environment, or prompts for it without echo.
func secret(key, prompt string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}

	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	bts, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err == nil {
		return string(bts), nil
	}

	// not a terminal, read a plain line.
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("could not read %s: %w", prompt, err)
	}
	return strings.TrimSpace(line), nil
}

func closeClient(cli *paradox.Client) {
	if err := cli.Close(); err != nil {
		log.Warn("could not close session", "err", err)
	}
}
