package modbus

var DialStrategy = &dialStrategy
