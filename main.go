package main

import "github.com/andresmejia3/anonymizer/cmd"

func main() {
	cmd.Execute()
}
