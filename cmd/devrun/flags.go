package main

import "time"

// GlobalFlags are the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Token      string
	Username   string
	Password   string
	CACert     string
	Insecure   bool
}

// Flag structs to decouple cobra from logic for testing.

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

type ProjectAddFlags struct {
	Name   string
	Path   string
	Script string
	Desc   string
}

type LogsFlags struct {
	Project string
	Status  bool
}

type LoginFlags struct {
	Username string
	Password string
}
