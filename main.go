package main

import "github.com/frahmantamala/tagfinder/cmd"

func main() {
	cmd.Execute()
}
