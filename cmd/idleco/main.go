// Package main is the entry point for the idleco game server.
//
// @title          Idle Company Game API
// @version        1.0
// @description    Backend for the idle company game. Found a company, buy upgrades, watch the balance accrue in real time.
// @host           localhost:8000
// @BasePath       /
// @schemes        http
package main

func main() {
	Execute()
}
