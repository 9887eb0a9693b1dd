// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Command opcua-connect exercises the connection-establishment core
// end to end against a real server: it dials, negotiates a secure
// channel, optionally authenticates, activates a session, prints every
// state transition, and tears back down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/imatic-tech/opcua"
	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uasc"
)

func main() {
	var (
		endpoint   = flag.String("endpoint", "opc.tcp://localhost:4840", "OPC UA endpoint URL")
		secMode    = flag.String("mode", "", "security mode: None, Sign, or SignAndEncrypt (unset = no preference)")
		secPolicy  = flag.String("policy", "", "security policy URI or short name, e.g. Basic256Sha256")
		username   = flag.String("username", "", "username for UserName identity token auth")
		pfxPath    = flag.String("cert", "", "path to a PKCS#12 client certificate bundle")
		noSession  = flag.Bool("no-session", false, "stop after the secure channel, skip CreateSession/ActivateSession")
	)
	flag.BoolVar(&debug.Enable, "debug", false, "enable debug logging")
	flag.Parse()
	log.SetFlags(0)

	opts, err := buildOptions(*secMode, *secPolicy, *username, *pfxPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := opcua.NewClient(*endpoint, opts...)
	c.OnStateChange(func(s opcua.ClientState) {
		log.Printf("state: %s", s)
	})

	connect := c.Connect
	if *noSession {
		connect = c.ConnectNoSession
	}
	if err := connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer func() {
		if err := c.Close(ctx); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	log.Printf("connected, state=%s", c.State())
	<-ctx.Done()
}

func buildOptions(secMode, secPolicy, username, pfxPath string) ([]opcua.Option, error) {
	var opts []opcua.Option

	if secPolicy != "" {
		opts = append(opts, opcua.SecurityPolicyOption(secPolicy))
	}
	if mode, ok := parseSecurityMode(secMode); ok {
		opts = append(opts, opcua.SecurityModeOption(mode))
	}

	if pfxPath != "" {
		fmt.Fprint(os.Stderr, "certificate bundle password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading certificate password: %w", err)
		}
		cert, key, err := uasc.LoadPKCS12(pfxPath, string(pw))
		if err != nil {
			return nil, fmt.Errorf("loading certificate bundle: %w", err)
		}
		opts = append(opts, opcua.Certificate(cert, key))
	}

	if username != "" {
		fmt.Fprint(os.Stderr, "password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		opts = append(opts, opcua.AuthUsername(username, string(pw)))
	}

	return opts, nil
}

func parseSecurityMode(s string) (mode ua.MessageSecurityMode, ok bool) {
	switch s {
	case "None":
		return ua.MessageSecurityModeNone, true
	case "Sign":
		return ua.MessageSecurityModeSign, true
	case "SignAndEncrypt":
		return ua.MessageSecurityModeSignAndEncrypt, true
	default:
		return 0, false
	}
}
