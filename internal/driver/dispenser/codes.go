// internal/driver/dispenser/codes.go
package dispenser

import (
	"cash-device-service/internal/codec/crt"
	"cash-device-service/internal/model"
	"cash-device-service/pkg/driver"
)

// Status codes returned by the card dispenser
const (
	CodeFull             = 201
	CodeSomeCards        = 202
	CodeDispensed        = 203
	CodeRecycled         = 204
	CodeAlreadyConnected = 301
	CodeCardInGate       = 301
	CodeRecycleFullFull  = 302
	CodeRecycleFullSome  = 303
	CodeCardTaken        = 304
	CodeDispensedNoisy   = 305
	CodeFailure          = 500
	CodeNotChecked       = 501
	CodeNotInitialized   = 502
	CodePortNotFound     = 503
	CodeJammed           = 504
	CodeRecycleFullEmpty = 505
	CodeEmpty            = 506
	CodeNoAnswer         = 507
	CodeDispenseJammed   = 508
	CodeCardUnknown      = 509
	CodeNoCards          = 510
	CodeRecycleJammed    = 511
	CodeRecycleInGate    = 512
	CodeNothingToRecycle = 513
	CodeRecycleBoxFull   = 514
	CodeRecycleFailed    = 515
	CodeRecycleUnknown   = 516
)

const msgAlreadyConnected = "Sesion ya conectada"

var messages = map[int]string{
	CodeFull:             "Dispensador OK. Lleno de tarjetas disponibles",
	CodeSomeCards:        "Dispensador OK. Con algunas tarjetas disponibles",
	CodeDispensed:        "Dispensador movio la tarjeta. Se dispenso y se detecto la tarjeta en puerta",
	CodeRecycled:         "Dispensador reciclo la tarjeta. Se movio exitosamente a la caja de reciclaje",
	CodeCardInGate:       "Dispensador con tarjeta en puerta. Esperar para entregar al usuario o reciclar",
	CodeRecycleFullFull:  "Dispensador con caja de reciclaje llena. Lleno de tarjetas disponibles",
	CodeRecycleFullSome:  "Dispensador con caja de reciclaje llena. Con algunas tarjetas disponibles",
	CodeCardTaken:        "Dispensador movio la tarjeta. Se dispenso pero ya se retiro la tarjeta",
	CodeDispensedNoisy:   "Dispensador movio la tarjeta. Hubieron errores de comunicacion pero se detecto la tarjeta en puerta",
	CodeNotChecked:       "Fallo con el dispensador. Conecto, inicializo, pero no se pudo revisar",
	CodeNotInitialized:   "Fallo con el dispensador. Conecto, pero no se pudo inicializar",
	CodePortNotFound:     "Fallo en la conexion con el dispensador, puerto no encontrado",
	CodeJammed:           "Dispensador atascado. Se reviso exitosamente pero se detecto una tarjeta atascada",
	CodeRecycleFullEmpty: "Dispensador con caja de reciclaje llena. No hay tarjetas disponibles",
	CodeEmpty:            "Dispensador sin tarjetas. Caja de reciclaje aun no esta llena",
	CodeNoAnswer:         "Fallo con el dispensador. No responde",
	CodeDispenseJammed:   "Dispensador atascado. Se dispenso, pero la tarjeta quedo atascada",
	CodeCardUnknown:      "Fallo con el dispensador. No se pudo conocer el estado de la tarjeta",
	CodeNoCards:          "Dispensador sin tarjetas. No se puede dispensar la tarjeta",
	CodeRecycleJammed:    "Dispensador atascado. Se intento reciclar, pero la tarjeta quedo atascada",
	CodeRecycleInGate:    "Dispensador con tarjeta en puerta. Se intento reciclar, pero la tarjeta sigue en la puerta",
	CodeNothingToRecycle: "No se detecto tarjeta en puerta y por ello no se intenta reciclar la tarjeta",
	CodeRecycleBoxFull:   "Dispensador con caja de reciclaje llena. No se puede reciclar la tarjeta",
	CodeRecycleUnknown:   "Fallo con el dispensador. Se intenta reciclar pero no se pudo conocer el estado de la tarjeta",
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

func failure(e crt.ErrorCode) driver.CommandResponse {
	return driver.Response(CodeFailure, "Fallo con el dispensador. Codigo de fallo: "+e.Code+" - Mensaje de fallo: "+e.Message)
}

func recycleFailure(e crt.ErrorCode) driver.CommandResponse {
	return driver.Response(CodeRecycleFailed, "Hubo un error reciclando la tarjeta. Codigo de fallo: "+e.Code+" - Mensaje de fallo: "+e.Message)
}

// State is a node of the dispenser state machine
type State string

const (
	StateIdle        State = "IDLE"
	StateConnect     State = "CONNECT"
	StateInit        State = "INIT"
	StateWait        State = "WAIT"
	StateMovingMotor State = "MOVING_MOTOR"
	StateHandingCard State = "HANDING_CARD"
	StateError       State = "ERROR"
)

// Lifecycle maps the state onto the shared session lifecycle. A card
// on its way out or back counts as reading.
func (s State) Lifecycle() model.Lifecycle {
	switch s {
	case StateConnect, StateInit:
		return model.LifecycleConnecting
	case StateWait:
		return model.LifecycleReady
	case StateMovingMotor, StateHandingCard:
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
	EvAny            Event = "ANY"
	EvSuccessConn    Event = "SUCCESS_CONN"
	EvSuccessInit    Event = "SUCCESS_INIT"
	EvCallDispensing Event = "CALL_DISPENSING"
	EvWait           Event = "WAIT"
	EvCardInGate     Event = "CARD_IN_GATE"
	EvFinish         Event = "FINISH"
	EvError          Event = "ERROR"
	EvReset          Event = "RESET"
)
