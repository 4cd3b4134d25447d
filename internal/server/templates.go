package server

import "github.com/CLIAIMONITOR/internal/domain"

// exampleSpecs backs GET /api/templates: a handful of hard-coded starting
// points a caller can submit as-is or edit before POSTing to
// /api/generate.
var exampleSpecs = map[string]domain.Specification{
	"uart_logger": {
		ProjectName: "UART Logger",
		MCU:         "STM32F103",
		Description: "Single UART peripheral driver for a debug console.",
		Modules: []domain.ModuleDefinition{
			{
				ID:          "uart0",
				Name:        "uart0",
				Type:        domain.ModuleUART,
				Description: "Debug console UART, interrupt-driven TX/RX ring buffers.",
				Parameters: map[string]interface{}{
					"baud_rate": 115200,
					"data_bits": 8,
					"parity":    "none",
				},
			},
		},
		OptimizationGoal: domain.OptSize,
	},
	"sensor_hub": {
		ProjectName: "Sensor Hub",
		MCU:         "ESP32",
		Description: "I2C sensor aggregation with a watchdog-supervised main loop.",
		Modules: []domain.ModuleDefinition{
			{
				ID:   "i2c0",
				Name: "i2c0",
				Type: domain.ModuleI2C,
				Parameters: map[string]interface{}{
					"clock_hz": 400000,
				},
			},
			{
				ID:   "temp_sensor",
				Name: "temp_sensor",
				Type: domain.ModuleSensor,
				Parameters: map[string]interface{}{
					"interface": "i2c0",
					"address":   "0x48",
				},
			},
			{
				ID:   "watchdog0",
				Name: "watchdog0",
				Type: domain.ModuleWatchdog,
				Parameters: map[string]interface{}{
					"timeout_ms": 2000,
				},
			},
		},
		OptimizationGoal: domain.OptBalanced,
	},
	"safety_critical_motor": {
		ProjectName:    "Motor Controller",
		MCU:            "TI TMS570",
		Description:    "Safety-critical motor controller with CAN telemetry.",
		SafetyCritical: true,
		Modules: []domain.ModuleDefinition{
			{
				ID:   "can0",
				Name: "can0",
				Type: domain.ModuleCAN,
				Parameters: map[string]interface{}{
					"bitrate": 500000,
				},
			},
			{
				ID:   "motor0",
				Name: "motor0",
				Type: domain.ModuleMotor,
				Requirements: []string{
					"must halt the motor within 50ms of a watchdog fault",
				},
			},
			{
				ID:   "watchdog0",
				Name: "watchdog0",
				Type: domain.ModuleWatchdog,
			},
		},
		OptimizationGoal: domain.OptPerformance,
	},
}
