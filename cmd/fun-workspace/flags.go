package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Token      string
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

type LogsFlags struct {
	API       APIFlags
	UserID    int64
	AppID     int64
	Type      string
	TailBytes int64
	Stream    bool
}

type PortFlags struct {
	API    APIFlags
	UserID int64
	Port   int
}

type AppFlags struct {
	API    APIFlags
	UserID int64
	AppID  int64
	Name   string
}

// ReclaimFlags drive the offline reclaim command, which works on the local
// filesystem without a running daemon.
type ReclaimFlags struct {
	ConfigPath string
	Root       string
	UserID     int64
	AppID      int64
	Purge      bool
}
