package main

import (
	"github.com/sehnem/verified-sources/utils"
)

// logger shared logger for the whole program
var logger = &utils.Logger
