package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/urfave/cli/v2"

	"github.com/blockscan/blockscan/addressstate"
	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/settings"
	"github.com/blockscan/blockscan/ulogger"
)

func addressesCommand() *cli.Command {
	return &cli.Command{
		Name:  "addresses",
		Usage: "dump the address registry",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Usage: "directory for the columnar store and state files"},
			&cli.StringFlag{Name: "type", Usage: "only dump this address type partition"},
			&cli.Uint64Flag{Name: "limit", Usage: "stop after this many addresses per partition (0 = all)"},
		},
		Action: runAddresses,
	}
}

func runAddresses(c *cli.Context) error {
	tSettings := settings.NewSettings()

	if v := c.String("datadir"); v != "" {
		tSettings.DataFolder = v
	}

	logger := ulogger.New("blockscan", ulogger.WithLevel(tSettings.LogLevel))

	addr, err := addressstate.New(logger.New("addressstate"), tSettings)
	if err != nil {
		return err
	}
	defer addr.Close()

	if err := addr.Load(); err != nil {
		return err
	}

	only := c.String("type")
	if only != "" && addressTypeByName(only) < 0 {
		return errors.NewConfigurationError("unknown address type %q", only)
	}

	limit := c.Uint64("limit")

	for t := 0; t < model.NumAddressTypes; t++ {
		typ := model.AddressType(t)

		if only != "" && typ.String() != only {
			continue
		}

		count := uint64(addr.Count(typ))
		if limit > 0 && count > limit {
			count = limit
		}

		for num := uint64(1); num <= count; num++ {
			creationTxNum, payload, err := addr.ReadAddress(typ, uint32(num))
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "%s\t%d\t%d\t%s\n",
				typ, num, creationTxNum, encodeAddress(typ, payload, tSettings.ChainCfgParams))
		}
	}

	return nil
}

func addressTypeByName(name string) int {
	for t := 0; t < model.NumAddressTypes; t++ {
		if model.AddressType(t).String() == name {
			return t
		}
	}

	return -1
}

// encodeAddress renders a registry payload in the network's standard address
// encoding. Types with no standard encoding fall back to hex.
func encodeAddress(typ model.AddressType, payload []byte, params *chaincfg.Params) string {
	var (
		addr btcutil.Address
		err  error
	)

	switch typ {
	case model.AddressTypePubkey:
		addr, err = btcutil.NewAddressPubKey(payload, params)

	case model.AddressTypePubkeyHash:
		addr, err = btcutil.NewAddressPubKeyHash(payload, params)

	case model.AddressTypeScriptHash:
		addr, err = btcutil.NewAddressScriptHashFromHash(payload, params)

	case model.AddressTypeWitnessPubkeyHash:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(payload, params)

	case model.AddressTypeWitnessScriptHash:
		addr, err = btcutil.NewAddressWitnessScriptHash(payload, params)

	case model.AddressTypeWitnessUnknown:
		// Payload is version byte followed by the witness program.
		if len(payload) > 1 && payload[0] == 1 && len(payload[1:]) == 32 {
			addr, err = btcutil.NewAddressTaproot(payload[1:], params)
		} else {
			return hex.EncodeToString(payload)
		}

	default:
		return hex.EncodeToString(payload)
	}

	if err != nil {
		return hex.EncodeToString(payload)
	}

	return addr.EncodeAddress()
}
