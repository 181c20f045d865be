package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
}

type AgentFlags struct {
	ConfigPath string
}

// ClientFlags selects the remote manager or agent.
type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Token      string
}

type StopFlags struct {
	ClientFlags
	Wait time.Duration
}

type TokenFlags struct {
	ConfigPath string
	Secret     string
	Subject    string
	TTL        time.Duration
}
