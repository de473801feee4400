// Command engram is the command-line front end of the memory graph engine.
package main

func main() {
	Execute()
}
