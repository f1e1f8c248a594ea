// Command harvester collects housing listings and their neighbourhood facilities.
package main

import "github.com/JakeFAU/housing-harvester/cmd"

func main() {
	cmd.Execute()
}
