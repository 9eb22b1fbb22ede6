package payment

// MapGatewayStatus maps the numeric order status reported by the gateway to
// an internal state. Unknown codes map to CREATED on purpose: the gateway may
// introduce new codes and an unmapped one must not be treated as an error.
func MapGatewayStatus(code int) State {
	switch code {
	case 0:
		return StateCreated // order registered, not paid
	case 1:
		return StateAuthorized // amount held (two-stage scenario)
	case 2:
		return StatePaid // full authorization completed
	case 3:
		return StateDeclined // authorization cancelled
	case 4:
		return StateRefunded // refund performed
	case 5:
		return StateOnPayment // issuer ACS authentication initiated
	case 6:
		return StateDeclined // authorization declined
	default:
		return StateCreated
	}
}

// MapOperation maps a notification operation name to an internal state.
// Unknown operation names map to CREATED, same deliberate fallback as
// MapGatewayStatus.
func MapOperation(op string) State {
	switch op {
	case "created":
		return StateCreated
	case "approved":
		return StateAuthorized // hold operation
	case "deposited":
		return StatePaid // completion operation
	case "reversed":
		return StateDeclined
	case "refunded":
		return StateRefunded
	case "declinedByTimeout":
		return StateExpired
	case "subscriptionCreated":
		return StatePaid
	default:
		return StateCreated
	}
}
