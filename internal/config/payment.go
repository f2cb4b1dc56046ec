package config

import "time"

// PaymentGateway configures the hosted payment page integration.
type PaymentGateway struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	ReturnURL   string
	Version     string
	Command     string
	Locale      string
	Currency    string
	OrderType   string
	ExpireAfter time.Duration
}

func LoadPaymentGateway() (PaymentGateway, error) {
	required, err := Required("VNPAY_TMN_CODE", "VNPAY_HASH_SECRET", "VNPAY_RETURN_URL")
	if err != nil {
		return PaymentGateway{}, err
	}

	expire, err := Duration("VNPAY_EXPIRE_AFTER", 15*time.Minute)
	if err != nil {
		return PaymentGateway{}, err
	}

	return PaymentGateway{
		TmnCode:     required["VNPAY_TMN_CODE"],
		HashSecret:  required["VNPAY_HASH_SECRET"],
		PayURL:      String("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
		ReturnURL:   required["VNPAY_RETURN_URL"],
		Version:     String("VNPAY_VERSION", "2.1.0"),
		Command:     "pay",
		Locale:      String("VNPAY_LOCALE", "vn"),
		Currency:    String("VNPAY_CURRENCY", "VND"),
		OrderType:   String("VNPAY_ORDER_TYPE", "other"),
		ExpireAfter: expire,
	}, nil
}
