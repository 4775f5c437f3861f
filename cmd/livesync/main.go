// Package main is the entry point for livesync.
package main

func main() {
	Execute()
}
