package importer

// messages.go maps technical errors to messages shown to CRM users.
//
// Codes are quoted by users when they contact support:
//
//	VAL001  Malformed request body
//	VAL004  Missing required column(s)
//	VAL007  Unknown duplicate strategy
//	FILE001 File too large
//	FILE002 Not a readable spreadsheet
//	FILE004 No file selected
//	FILE005 No header row or no data rows
//	FILE006 Extension is not .xlsx / .xls
//	IMP001  Operation already in progress
//	IMP002  Action not valid at this step
//	IMP003  Every row was dropped (blank name)
//	IMP004  Duplicate check endpoint failed
//	UPL001  Too many imports running
//	UPL003  Import session expired
//	UPL004  Request cancelled
//	UPL005  Request timed out
//	DB001   Duplicate key
//	DB003   Foreign key violation
//	DB004   Database unreachable
//	TBL001  Unknown table or entity
//	TBL002  Table already registered
//	TBL003  Invalid table or column name
//	TBL004  Column type, default or reference not accepted
//	SCH001  Schema sync unavailable
//	RATE001 Too many requests
//	ERR000  Anything else; check the logs
//
// Sentinel errors are matched first with errors.Is / errors.As; then the error
// text is matched case-insensitively, first pattern wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage is an error as shown to the user.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrNoFile, UserMessage{"No se ha seleccionado ningún archivo", "Selecciona un archivo Excel (.xlsx o .xls)", "FILE004"}},
	{ErrUnsupportedFile, UserMessage{"Formato de archivo no soportado", "Sube un archivo Excel (.xlsx o .xls)", "FILE006"}},
	{ErrEmptyFile, UserMessage{"El archivo está vacío o no contiene datos", "El archivo debe tener una fila de encabezados y al menos una fila de datos", "FILE005"}},
	{ErrFileTooLarge, UserMessage{"El archivo supera el tamaño máximo permitido", "Divide el archivo en partes más pequeñas", "FILE001"}},
	{ErrBusy, UserMessage{"Ya hay una operación en curso", "Espera a que termine antes de volver a intentarlo", "IMP001"}},
	{ErrInvalidState, UserMessage{"Esta acción no está disponible en este paso", "Recarga el estado de la importación", "IMP002"}},
	{ErrNothingToRetry, UserMessage{"No hay ninguna operación fallida que reintentar", "Continúa con la importación", "IMP002"}},
	{ErrNoRows, UserMessage{"No hay filas válidas para importar", "Comprueba que las filas tengan nombre", "IMP003"}},
	{ErrInvalidStrategy, UserMessage{"Estrategia de duplicados no válida", "Elige actualizar, omitir o crear nuevos", "VAL007"}},
	{ErrTooManyImports, UserMessage{"Hay demasiadas importaciones en curso", "Espera unos segundos y vuelve a intentarlo", "UPL001"}},
	{ErrSessionNotFound, UserMessage{"La sesión de importación no existe o ha caducado", "Vuelve a subir el archivo", "UPL003"}},
	{context.Canceled, UserMessage{"La solicitud fue cancelada", "Inténtalo de nuevo", "UPL004"}},
	{context.DeadlineExceeded, UserMessage{"La solicitud tardó demasiado", "Inténtalo de nuevo o sube un archivo más pequeño", "UPL005"}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"check duplicates", UserMessage{"No se pudo comprobar si hay duplicados", "Inténtalo de nuevo", "IMP004"}},
	{"duplicate key", UserMessage{"Ya existe un registro con ese identificador", "Revisa los duplicados y elige una estrategia", "DB001"}},
	{"violates foreign key", UserMessage{"El registro relacionado no existe", "Importa primero los registros relacionados", "DB003"}},
	{"connection refused", UserMessage{"No se puede conectar con la base de datos", "Inténtalo de nuevo en unos minutos", "DB004"}},
	{"invalid spreadsheet", UserMessage{"El archivo no es una hoja de cálculo válida", "Guarda el archivo como .xlsx e inténtalo de nuevo", "FILE002"}},
	{"unknown entity", UserMessage{"Tipo de importación desconocido", "Elige clientes, proveedores o materiales", "TBL001"}},
	{"table not found", UserMessage{"La tabla no existe", "Comprueba el nombre de la tabla", "TBL001"}},
	{"table already exists", UserMessage{"La tabla ya existe", "Usa la actualización de tabla para añadir columnas", "TBL002"}},
	{"invalid identifier", UserMessage{"Nombre de tabla o columna no válido", "Usa solo letras, números y guiones bajos", "TBL003"}},
	{"invalid column", UserMessage{"Definición de columna no válida", "Usa un tipo SQL simple y un valor por defecto sin sentencias", "TBL004"}},
	{"schema sync", UserMessage{"La sincronización del esquema no está disponible", "Configura la conexión con la base de datos", "SCH001"}},
	{"bad request", UserMessage{"La solicitud no es válida", "Revisa los datos enviados", "VAL001"}},
	{"rate limit", UserMessage{"Demasiadas solicitudes", "Espera un momento antes de volver a intentarlo", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "Se produjo un error inesperado",
	Action:  "Inténtalo de nuevo o contacta con soporte",
	Code:    "ERR000",
}

// MapError converts an error to a user message. Returns the zero value for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var missing *MissingColumnsError
	if errors.As(err, &missing) {
		return UserMessage{
			Message: "Faltan columnas obligatorias: " + strings.Join(missing.Columns, ", "),
			Action:  "Descarga la plantilla y comprueba los encabezados",
			Code:    "VAL004",
		}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	text := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(text, p.pattern) {
			return p.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Código: X). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Código: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}
