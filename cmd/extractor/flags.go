package main

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	Country string
}

type ServeFlags struct {
	Listen string
}

type MigrateFlags struct {
	Country string
	LastRun string
}
