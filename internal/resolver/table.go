package resolver

// Vendor reader service constants (CipherLab barcode base API).
const (
	ReaderServicePackage = "com.cipherlab.clbarcodeservice"

	KeyReaderData      = "Decoder_Data"
	KeyReaderDataArray = "Decoder_DataArray"
	KeyReaderCodeType  = "Decoder_CodeType"
	KeyReaderCodeTypeS = "Decoder_CodeType_String"
	KeyReaderDecodeErr = "Decoder_Error"

	ActionServiceConnected = "com.cipherlab.barcodebaseapi.SERVICE_CONNECTED"
	ActionSoftTriggerData  = "com.cipherlab.barcodebaseapi.SOFTTRIGGER_DATA"
	ActionPassToApp        = "com.cipherlab.barcodebaseapi.PASS_DATA_2_APP"
	ActionDecodeError      = "com.cipherlab.barcodebaseapi.decode_error"
)

// Wildcard is accepted in an action list in place of a concrete tag.
const Wildcard = "*"

// DefaultActions lists every tag a scan may arrive under. Vendor actions
// come first, followed by the actions other scanner vendors are known to use.
var DefaultActions = []string{
	ActionPassToApp,
	ActionServiceConnected,
	ActionSoftTriggerData,
	ActionDecodeError,

	"android.intent.action.MAIN",

	"com.symbol.datawedge.api.ACTION",
	"com.honeywell.decode.intent.action.BARCODE_DATA",
	"com.datalogic.decode.action.BARCODE_DATA",
	"device.common.SCANNER_STATE",
	"android.intent.action.DECODE_DATA",
	"scan.rcv.message",
	"com.android.server.scannerservice.broadcast",
	"com.google.zxing.client.android.SCAN",

	"scanner.action.DECODE_DATA",
	"scanner.action.BARCODE_DATA",
	"barcode.data",
	"barcode.result",
	"com.barcode.sendResult",
	"com.scanner.broadcast",
}

// DefaultDataKeys is the candidate key list, most authoritative first.
// The vendor never documented which extra carries the payload on every
// firmware, so everything past KeyReaderData is a guess.
var DefaultDataKeys = []string{
	KeyReaderData,
	KeyReaderDataArray,
	KeyReaderCodeType,
	KeyReaderCodeTypeS,
	KeyReaderDecodeErr,

	"data",
	"barcode",
	"barcodeData",
	"barcode_string",
	"SCAN_RESULT",
	"RESULT",
	"decode_data",
	"barcode_value",
	"data_string",
	"scanData",
	"barocode",
	"barcode_data",
	"BARCODE",
	"DECODED_DATA",
	"decode_result",
	"scan_result",
}
