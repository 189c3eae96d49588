package domain

// CartLineItem is one product line of the cart. Qty stays within [1, Stock].
type CartLineItem struct {
	ProductID string  `json:"product" bson:"product"`
	Name      string  `json:"name" bson:"name"`
	Image     string  `json:"image" bson:"image"`
	UnitPrice float64 `json:"price" bson:"price"`
	Stock     int     `json:"countInStock" bson:"count_in_stock"`
	Qty       int     `json:"qty" bson:"qty"`
}

type ShippingAddress struct {
	ID         string `json:"id,omitempty" bson:"id,omitempty"`
	Street     string `json:"street" bson:"street"`
	Apartment  string `json:"apartment,omitempty" bson:"apartment,omitempty"`
	City       string `json:"city" bson:"city"`
	County     string `json:"county" bson:"county"`
	PostalCode string `json:"postal_code" bson:"postal_code"`
	Country    string `json:"country" bson:"country"`
	Type       string `json:"address_type,omitempty" bson:"address_type,omitempty"`
}

// IsZero reports whether a carries no usable address.
func (a *ShippingAddress) IsZero() bool {
	return a == nil || (a.ID == "" && a.Street == "" && a.City == "")
}

type PaymentMethod string

const (
	PaymentMethodMPesa PaymentMethod = "mpesa"
	PaymentMethodCOD   PaymentMethod = "cod"
	PaymentMethodCard  PaymentMethod = "card"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodMPesa, PaymentMethodCOD, PaymentMethodCard:
		return true
	}
	return false
}

// IsMobileMoney reports whether payment needs an external confirmation round-trip.
func (m PaymentMethod) IsMobileMoney() bool {
	return m == PaymentMethodMPesa
}

type PaymentMethodSelection struct {
	Method      PaymentMethod `json:"method" bson:"method"`
	MPesaNumber string        `json:"mpesa_number,omitempty" bson:"mpesa_number,omitempty"`
}

func (p *PaymentMethodSelection) IsZero() bool {
	return p == nil || p.Method == ""
}

// Totals are computed by the backend; the cart only stores them.
type Totals struct {
	Subtotal float64 `json:"subtotal" bson:"subtotal"`
	Shipping float64 `json:"shipping" bson:"shipping"`
	Tax      float64 `json:"tax" bson:"tax"`
	Discount float64 `json:"discount" bson:"discount"`
	Total    float64 `json:"total" bson:"total"`
}

type CartState struct {
	Items           []CartLineItem          `json:"cartItems"`
	ShippingAddress *ShippingAddress        `json:"shippingAddress"`
	PaymentMethod   *PaymentMethodSelection `json:"paymentMethod"`
	Totals          Totals                  `json:"totals"`
}

// Clone returns a deep copy of s.
func (s CartState) Clone() CartState {
	out := CartState{Totals: s.Totals}
	out.Items = make([]CartLineItem, len(s.Items))
	copy(out.Items, s.Items)
	if s.ShippingAddress != nil {
		addr := *s.ShippingAddress
		out.ShippingAddress = &addr
	}
	if s.PaymentMethod != nil {
		pm := *s.PaymentMethod
		out.PaymentMethod = &pm
	}
	return out
}
