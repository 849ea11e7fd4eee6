// The main package for the harvester executable.
package main

import "github.com/JakeFAU/ed-forum-harvester/cmd"

func main() {
	cmd.Execute()
}
