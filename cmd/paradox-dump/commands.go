package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	paradox "github.com/caarlos0/homekit-paradox"
	"github.com/spf13/cobra"
)

func memoryCommand(f *flags) *cobra.Command {
	var eeprom []string
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Print the 17 RAM pages of the memory map, or EEPROM addresses",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			cli, err := connect(f)
			if err != nil {
				return err
			}
			defer closeClient(cli)

			if len(eeprom) > 0 {
				for _, s := range eeprom {
					address, err := strconv.ParseInt(s, 0, 32)
					if err != nil {
						return fmt.Errorf("invalid address %q: %w", s, err)
					}
					data, err := cli.ReadEEPROM(int(address), paradox.BlockSize)
					if err != nil {
						return err
					}
					fmt.Printf("eeprom 0x%04X\n%s\n", address, hex.Dump(data))
				}
				return nil
			}

			mm := cli.MemoryMap()
			for i := 0; i < paradox.MemoryMapBlocks; i++ {
				fmt.Printf(
					"block %d (read at %s)\n%s\n",
					i, mm.UpdatedAt(i).Format("15:04:05.000"), hex.Dump(mm.Element(i)),
				)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&eeprom, "eeprom", nil, "EEPROM addresses to read 64 bytes from, e.g. 0x430")
	return cmd
}

func labelsCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "Print the partition and zone labels",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			cli, err := connect(f)
			if err != nil {
				return err
			}
			defer closeClient(cli)

			partitions, err := cli.PartitionLabels()
			if err != nil {
				return err
			}
			zones, err := cli.ZoneLabels()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for i, label := range partitions {
				fmt.Fprintf(w, "partition\t%d\t%s\n", i+1, label)
			}
			for i, label := range zones {
				if label == "" {
					continue
				}
				fmt.Fprintf(w, "zone\t%d\t%s\n", i+1, label)
			}
			return w.Flush()
		},
	}
}

func flagsCommand(f *flags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Print the partition states and the zones with any flag set",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			cli, err := connect(f)
			if err != nil {
				return err
			}
			defer closeClient(cli)

			partitions, err := cli.Partitions()
			if err != nil {
				return err
			}
			zones, err := cli.Zones()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PARTITION\tSTATE\tREADY\tTROUBLE\tALARM IN MEMORY")
			for _, p := range partitions {
				fmt.Fprintf(w, "%d\t%s\t%v\t%v\t%v\n", p.Number, p.State(), p.ReadyToArm, p.Trouble, p.AlarmInMemory)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "ZONE\tOPEN\tTAMPER\tLOW BATTERY")
			for _, z := range zones {
				if !all && !z.Open && !z.Tamper && !z.LowBattery {
					continue
				}
				fmt.Fprintf(w, "%d\t%v\t%v\t%v\n", z.Number, z.Open, z.Tamper, z.LowBattery)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Print every zone, not only the ones with flags set")
	return cmd
}
