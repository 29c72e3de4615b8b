// internal/driver/azkoyen/codes.go
package azkoyen

import (
	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

// Status codes returned by the coin validator
const (
	CodeOK               = 200
	CodeReady            = 201
	CodeCoin             = 202
	CodeChannels         = 203
	CodeReset            = 204
	CodeRestarted        = 300
	CodeCOSAlert         = 301
	CodeAlreadyConnected = 301
	CodeRejected         = 302
	CodeNoEvent          = 303
	CodeCoinError        = 401
	CodeCritical         = 402
	CodeWarnLimit        = 403
	CodeNotReading       = 405
	CodeMeasureBlocked   = 501
	CodeOutBlocked       = 502
	CodeNoAnswer         = 503
	CodeFirmware         = 504
	CodePortNotFound     = 505
	CodeNotReset         = 506
	CodeNotStarted       = 507
	CodeChannelsFailed   = 508
	CodeDepositFailed    = 509
)

const msgAlreadyConnected = "Sesion ya conectada"

var messages = map[int]string{
	CodeOK:             "Validador OK. Todos los sensores reportan buen estado",
	CodeReady:          "Validador OK. Listo para iniciar a leer monedas",
	CodeCoin:           "Moneda detectada",
	CodeChannels:       "Validador OK. Canales inhibidos correctamente",
	CodeReset:          "Validador OK. Reset corrio exitosamente",
	CodeRestarted:      "Start reader corrio nuevamente. Listo para iniciar",
	CodeCOSAlert:       "Validador OK. Validador reporta alerta de moneda en cuerda",
	CodeRejected:       "Moneda rechazada",
	CodeNoEvent:        "No hay nueva informacion",
	CodeNotReading:     "No se puede detener el lector porque no se ha iniciado",
	CodeMeasureBlocked: "Fallo con el validador. Sensor de medida esta bloqueado",
	CodeOutBlocked:     "Fallo con el validador. Sensor de salida esta bloqueado",
	CodeNoAnswer:       "Fallo con el validador. No responde",
	CodeFirmware:       "Fallo en el codigo del validador. Revisar codigo en C",
	CodePortNotFound:   "Fallo en la conexion con el validador, puerto no encontrado",
	CodeNotReset:       "Fallo con el validador. Validador no reinicio aunque se intento reiniciar",
	CodeNotStarted:     "No se ha iniciado el lector (StartReader)",
	CodeChannelsFailed: "Fallo con el validador. No se pudieron inhibir los canales",
	CodeDepositFailed:  "Fallo en el deposito. Hubo un error critico",
}

// Message returns the catalogue text for code
func Message(code int) string {
	return messages[code]
}

// Messages returns a copy of the status catalogue
func Messages() map[int]string {
	out := make(map[int]string, len(messages))
	for k, v := range messages {
		out[k] = v
	}
	return out
}

func respond(code int) driver.CommandResponse {
	return driver.Response(code, messages[code])
}

// State is a node of the validator state machine
type State string

const (
	StateIdle     State = "IDLE"
	StateConnect  State = "CONNECT"
	StateCheck    State = "CHECK"
	StateWaitPoll State = "WAIT_POLL"
	StatePolling  State = "POLLING"
	StateReset    State = "RESET"
	StateError    State = "ERROR"
)

// Lifecycle maps the state onto the shared session lifecycle
func (s State) Lifecycle() model.Lifecycle {
	switch s {
	case StateConnect:
		return model.LifecycleConnecting
	case StateCheck, StateWaitPoll, StateReset:
		return model.LifecycleReady
	case StatePolling:
		return model.LifecycleReading
	case StateError:
		return model.LifecycleFaulted
	default:
		return model.LifecycleDisconnected
	}
}

// Event drives the state machine
type Event string

const (
	EvAny         Event = "ANY"
	EvSuccessConn Event = "SUCCESS_CONN"
	EvCheck       Event = "CHECK"
	EvCallPolling Event = "CALL_POLLING"
	EvReady       Event = "READY"
	EvPoll        Event = "POLL"
	EvFinishPoll  Event = "FINISH_POLL"
	EvLoop        Event = "LOOP"
	EvError       Event = "ERROR"
)
