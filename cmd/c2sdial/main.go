// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// The c2sdial command discovers and connects to the XMPP server for an address
// and prints the XML the server sends until the connection ends.
//
// For more information run c2sdial -help.
package main

import (
	"context"
	"encoding/xml"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"

	"mellium.im/xmlstream"

	"mellium.im/c2s"
	"mellium.im/c2s/config"
	"mellium.im/c2s/dial"
	"mellium.im/c2s/jid"
)

// flushWriter writes each token to the underlying encoder as soon as it is
// received.
type flushWriter struct {
	e *xml.Encoder
}

func (w flushWriter) EncodeToken(t xml.Token) error {
	if err := w.e.EncodeToken(t); err != nil {
		return err
	}
	return w.e.Flush()
}

// printXML pretty prints the XML read from r to stdout until r is exhausted.
func printXML(r io.Reader) error {
	e := xml.NewEncoder(os.Stdout)
	e.Indent("", "  ")
	_, err := xmlstream.Copy(flushWriter{e: e}, xml.NewDecoder(r))
	fmt.Println()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("error decoding stream: %w", err)
	}
	return nil
}

// dialOnce connects to the first endpoint discovered for addr and prints what
// the server sends.
func dialOnce(ctx context.Context, addr jid.JID, cfg config.Config, debug *log.Logger) error {
	debug.Printf("dialing %s", addr.Domainpart())
	conn, err := dial.Client(ctx, addr, cfg)
	if err != nil {
		return fmt.Errorf("error dialing %s: %w", addr.Domainpart(), err)
	}
	debug.Printf("connected to %s", conn.RemoteAddr())
	stop := context.AfterFunc(ctx, func() {
		/* #nosec */
		conn.Close()
	})
	defer stop()
	/* #nosec */
	defer conn.Close()
	return printXML(conn)
}

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	debug := log.New(io.Discard, "DEBUG ", log.LstdFlags)

	var (
		help    bool
		verbose bool
		once    bool
		cfgFile string
	)
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flags.BoolVar(&help, "help", help, "Show this help message")
	flags.BoolVar(&help, "h", help, "")
	flags.BoolVar(&verbose, "v", verbose, "Show verbose logging.")
	flags.BoolVar(&once, "once", once, "Dial the first discovered endpoint only, without retries.")
	flags.StringVar(&cfgFile, "config", cfgFile, "A YAML file containing the connection configuration.")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage of %s:\n\n\t%s [options] address\n\n", os.Args[0], os.Args[0])
		flags.PrintDefaults()
	}

	err := flags.Parse(os.Args[1:])
	switch err {
	case flag.ErrHelp:
		help = true
	case nil:
	default:
		logger.Fatalf("error parsing flags: %v", err)
	}
	if help {
		flags.Usage()
		return
	}
	if verbose {
		debug.SetOutput(os.Stderr)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	addr, err := jid.Parse(flags.Arg(0))
	if err != nil {
		logger.Fatalf("error parsing address %q: %v", flags.Arg(0), err)
	}

	var cfg config.Config
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
		if err != nil {
			logger.Fatalf("error loading config: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if once {
		if err := dialOnce(ctx, addr, cfg, debug); err != nil {
			logger.Fatal(err)
		}
		return
	}

	client := c2s.NewClient(cfg, addr.Domainpart(), c2s.ConnOptions(c2s.WithLogger(debug)))
	defer func() {
		if err := client.Close(); err != nil {
			logger.Printf("error closing connection: %v", err)
		}
	}()

	if ok, err := client.Conn().StartEncryption(); ok {
		logger.Printf("continuing without encryption: %v", err)
	}

	pr, pw := io.Pipe()
	client.Conn().OnData(func(s string) {
		/* #nosec */
		io.WriteString(pw, s)
	})

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		if err := printXML(pr); err != nil {
			logger.Print(err)
		}
		/* #nosec */
		pr.Close()
	}()

	debug.Printf("connecting to %s", client.Target())
	if err := client.Connect(ctx); err != nil {
		/* #nosec */
		pw.Close()
		logger.Fatalf("error connecting to %s: %v", client.Target(), err)
	}
	logger.Printf("connected to %s", client.Target())

	select {
	case <-ctx.Done():
		debug.Printf("interrupted, disconnecting")
		if err := client.Disconnect(); err != nil {
			logger.Printf("error disconnecting: %v", err)
		}
	case <-client.Conn().Done():
	}
	<-client.Conn().Done()
	if err := client.Conn().Err(); err != nil {
		logger.Printf("connection ended: %v", err)
	}
	/* #nosec */
	pw.Close()
	<-printed
}
