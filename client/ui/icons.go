package main

import (
	_ "embed"
)

//go:embed assets/updater.png
var iconIdle []byte

//go:embed assets/updater-update.png
var iconUpdate []byte
