package main

import "github.com/okuzmin/refbundler/cmd/refbundler/cmd"

func main() {
	cmd.Execute()
}
