// internal/driver/nv10/codes.go
package nv10

import (
	"fmt"

	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

// Status codes returned by the bill validator
const (
	CodeSynced           = 200
	CodeChecked          = 201
	CodeReady            = 202
	CodeRestarted        = 203
	CodeChannels         = 204
	CodeStopped          = 205
	CodeReturned         = 206
	CodeAlreadyConnected = 301
	CodeRepeated         = 301
	CodeNoEvent          = 302
	CodeReading          = 303
	CodeNoteDetected     = 304
	CodeRejecting        = 305
	CodeRejected         = 306
	CodeStacking         = 307
	CodeStacked          = 308
	CodeCredited         = 309
	CodeStackedNoNews    = 310
	CodeInhibited        = 311
	CodeCreditedStacked  = 312
	CodeNoAnswer         = 501
	CodePortNotFound     = 502
	CodeNotStarted       = 503
	CodeCommandFailed    = 504
	CodeNoNote           = 505
	CodeSequence         = 507
	CodeCreditedError    = 508
	CodeUnknownValue     = 509
	CodeSevere           = 510
	CodeUnknownChannel   = 511
	CodeNotDisabled      = 511
	CodeNotChecked       = 512
	CodeNotReading       = 513
)

const (
	msgAlreadyConnected = "Sesion ya conectada"
	msgNotDisabled      = "Fallo con el billetero. No se pudo desactivar"
)

var messages = map[int]string{
	CodeSynced:          "Billetero OK. Se sincronizo exitosamente",
	CodeChecked:         "Billetero OK. Se reviso exitosamente",
	CodeReady:           "Billetero OK. Listo para iniciar a leer billetes",
	CodeRestarted:       "Billetero OK. Start reader corrio nuevamente. Listo para iniciar a leer billetes",
	CodeChannels:        "Billetero OK. Canales inhibidos correctamente",
	CodeStopped:         "Billetero OK. StopReader corrio exitosamente",
	CodeReturned:        "Billetero OK. Reject corrio exitosamente",
	CodeRepeated:        "Billetero OK. Comando repetido, la respuesta ya fue vista anteriormente",
	CodeNoEvent:         "Billetero OK. No hay nueva informacion",
	CodeReading:         "Leyendo billete. Se desconoce su valor",
	CodeNoteDetected:    "Leyendo billete. Billete detectado exitosamente",
	CodeRejecting:       "Billete rechazado. Esperando a que el usuario retire el billete",
	CodeRejected:        "Billete rechazado. Usuario retiro el billete",
	CodeStacking:        "Billete leido. Apilando billete",
	CodeStacked:         "Billete apilado",
	CodeCredited:        "Billete acreditado, listo para apilar",
	CodeStackedNoNews:   "Billetero OK. Billete apilado. No hay nueva informacion",
	CodeInhibited:       "Billete inhibido. Esperando a que el usuario retire el billete",
	CodeCreditedStacked: "Billete acreditado y apilado",
	CodeNoAnswer:        "Fallo con el billetero. No responde",
	CodePortNotFound:    "Fallo en la conexion con el billetero, puerto no encontrado",
	CodeNotStarted:      "No se ha iniciado el lector (StartReader)",
	CodeNoNote:          "No hay billete. Comando no puede ser procesado",
	CodeSequence:        "Error en secuencia del billetero. El anterior billete se pudo perder",
	CodeUnknownValue:    "Billete apilado pero no se sabe su valor",
	CodeUnknownChannel:  "Fallo con el codigo. Canal de billete desconocido",
	CodeNotChecked:      "Fallo con el billetero. No se pudo revisar",
	CodeNotReading:      "No se puede detener el lector porque no se ha iniciado",
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

func bill(code, value int) driver.Bill {
	return driver.Bill{CommandResponse: respond(code), Bill: value}
}

func commandFailed(msg string) driver.Bill {
	return driver.Bill{CommandResponse: driver.Response(CodeCommandFailed, "Falla en el comando. Comando retorna: "+msg)}
}

func creditedWithError(value int, msg string) driver.Bill {
	return driver.Bill{
		CommandResponse: driver.Response(CodeCreditedError, "Billete acreditado, pero con error: "+msg),
		Bill:            value,
	}
}

func severe(value int, msg string) driver.Bill {
	return driver.Bill{
		CommandResponse: driver.Response(CodeSevere, fmt.Sprintf("Error grave en el Billetero: %s con el billete: %d", msg, value)),
		Bill:            value,
	}
}

// State is a node of the validator state machine
type State string

const (
	StateIdle    State = "IDLE"
	StateConnect State = "CONNECT"
	StateDisable State = "DISABLE"
	StateEnable  State = "ENABLE"
	StatePolling State = "POLLING"
	StateCheck   State = "CHECK"
	StateError   State = "ERROR"
)

// Lifecycle maps the state onto the shared session lifecycle
func (s State) Lifecycle() model.Lifecycle {
	switch s {
	case StateConnect:
		return model.LifecycleConnecting
	case StateDisable, StateEnable, StateCheck:
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
	EvReady       Event = "READY"
	EvCallPolling Event = "CALL_POLLING"
	EvPoll        Event = "POLL"
	EvFinishPoll  Event = "FINISH_POLL"
	EvLoop        Event = "LOOP"
	EvError       Event = "ERROR"
	EvReset       Event = "RESET"
)
