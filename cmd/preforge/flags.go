package main

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	LogLevel string
	LogDir   string
}

// PoolStartFlags holds flags for "pool start".
type PoolStartFlags struct {
	ConfigPath string
	Name       string // selects one pool entry from ConfigPath; empty means "all"
}

// PoolStatusFlags holds flags for "pool status".
type PoolStatusFlags struct {
	APIUrl string
}

// ServerRunFlags holds flags for "server run".
type ServerRunFlags struct {
	ConfigPath string
}
