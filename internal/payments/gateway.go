package payments

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joao-fontenele/bookstore-orderflow/internal/config"
	"github.com/joao-fontenele/bookstore-orderflow/internal/domain"
	"github.com/joao-fontenele/bookstore-orderflow/internal/signing"
)

const (
	gatewayTimeLayout = "20060102150405"
	responseSuccess   = "00"
)

// gatewayZone is the gateway's wall clock; create and expire dates are read
// in it.
var gatewayZone = time.FixedZone("ICT", 7*60*60)

var responseMessages = map[string]string{
	"00": "Transaction successful",
	"07": "Transaction successful but flagged as suspicious",
	"09": "Card or account not registered for internet banking",
	"10": "Card or account authentication failed more than 3 times",
	"11": "Payment window expired",
	"12": "Card or account is locked",
	"13": "Wrong one-time password",
	"24": "Customer cancelled the transaction",
	"51": "Insufficient account balance",
	"65": "Daily transaction limit exceeded",
	"75": "Issuing bank under maintenance",
	"79": "Wrong payment password too many times",
	"99": "Unknown error",
}

// ResponseMessage describes a gateway response code.
func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "Unknown response code " + code
}

// Gateway builds signed redirect URLs and verifies signed callbacks for the
// hosted payment page.
type Gateway struct {
	cfg    config.PaymentGateway
	signer *signing.Signer
}

func NewGateway(cfg config.PaymentGateway) *Gateway {
	return &Gateway{cfg: cfg, signer: signing.NewSigner(cfg.HashSecret)}
}

type PaymentRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	ClientIP  string
	CreatedAt time.Time
}

// PaymentURL returns the customer redirect URL and the signature it carries.
// Amounts go out in hundredths of the currency's minor unit.
func (g *Gateway) PaymentURL(req PaymentRequest) (paymentURL, checksum string) {
	created := req.CreatedAt.In(gatewayZone)
	params := map[string]string{
		"vnp_Version":    g.cfg.Version,
		"vnp_Command":    g.cfg.Command,
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   g.cfg.Currency,
		"vnp_TxnRef":     req.TxnRef,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  g.cfg.OrderType,
		"vnp_Locale":     g.cfg.Locale,
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": created.Format(gatewayTimeLayout),
	}
	if g.cfg.ExpireAfter > 0 {
		params["vnp_ExpireDate"] = created.Add(g.cfg.ExpireAfter).Format(gatewayTimeLayout)
	}

	query, checksum := g.signer.SignedQuery(params)
	return g.cfg.PayURL + "?" + query, checksum
}

// AttemptInfo is the order info sent for one payment attempt. The gateway
// echoes it back unchanged, which ties a callback to the attempt it answers.
func AttemptInfo(description, transactionID string) string {
	return description + " " + transactionID
}

// CallbackParams is the typed view of a gateway callback. Fields the gateway
// adds later are ignored.
type CallbackParams struct {
	TmnCode           string
	TxnRef            string
	Amount            int64
	BankCode          string
	BankTranNo        string
	CardType          string
	OrderInfo         string
	PayDate           string
	ResponseCode      string
	TransactionNo     string
	TransactionStatus string
	Message           string
}

func (c *CallbackParams) Succeeded() bool {
	return c.ResponseCode == responseSuccess
}

// Answers reports whether the callback was issued for the attempt with the
// given transaction id. A callback without order info matches any attempt.
func (c *CallbackParams) Answers(transactionID string) bool {
	return c.OrderInfo == "" || strings.HasSuffix(c.OrderInfo, " "+transactionID)
}

// Outcome is the terminal payment status the callback asks for.
func (c *CallbackParams) Outcome() domain.PaymentStatus {
	if c.Succeeded() {
		return domain.PaymentStatusCompleted
	}
	return domain.PaymentStatusFailed
}

// Describe returns the gateway's message, or a description of the response
// code when the gateway sent none.
func (c *CallbackParams) Describe() string {
	if c.Message != "" {
		return c.Message
	}
	return ResponseMessage(c.ResponseCode)
}

// ParseCallback verifies the signature over every received field except the
// signature fields, then decodes the known fields. Nothing is decoded from an
// unverified callback.
func (g *Gateway) ParseCallback(params map[string]string) (*CallbackParams, error) {
	unsigned, signature := signing.Split(params)
	if signature == "" || !g.signer.Verify(unsigned, signature) {
		return nil, domain.ErrInvalidSignature
	}

	cb := &CallbackParams{
		TmnCode:           unsigned["vnp_TmnCode"],
		TxnRef:            unsigned["vnp_TxnRef"],
		BankCode:          unsigned["vnp_BankCode"],
		BankTranNo:        unsigned["vnp_BankTranNo"],
		CardType:          unsigned["vnp_CardType"],
		OrderInfo:         unsigned["vnp_OrderInfo"],
		PayDate:           unsigned["vnp_PayDate"],
		ResponseCode:      unsigned["vnp_ResponseCode"],
		TransactionNo:     unsigned["vnp_TransactionNo"],
		TransactionStatus: unsigned["vnp_TransactionStatus"],
		Message:           unsigned["vnp_Message"],
	}
	if cb.TxnRef == "" {
		return nil, fmt.Errorf("callback without vnp_TxnRef: %w", domain.ErrNotFound)
	}

	amount, err := strconv.ParseInt(unsigned["vnp_Amount"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("callback amount %q: %w", unsigned["vnp_Amount"], domain.ErrAmountMismatch)
	}
	cb.Amount = amount

	return cb, nil
}
