package types

type DriverType string

var DriverTypeGPIO = DriverType("gpio")
var DriverTypeModbus = DriverType("modbus")
var DriverTypeMQTT = DriverType("mqtt")
var DriverTypeDummy = DriverType("dummy")

type BackendType string

var BackendTypeAt = BackendType("at")
var BackendTypeInProcess = BackendType("inprocess")
