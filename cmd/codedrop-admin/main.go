package main

import "codedrop/internal/admin"

func main() {
	admin.Execute()
}
