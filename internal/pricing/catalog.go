package pricing

const (
	PlanBasic    = "basic"
	PlanStandard = "standard"
	PlanPremium  = "premium"
	PlanCustom   = "custom"

	ServerAuto      = "auto"
	ProtocolDefault = "wireguard"

	MaxDevices = 5
)

var (
	Tiers     = []string{PlanBasic, PlanStandard, PlanPremium}
	Months    = []int{1, 3, 6, 12}
	Servers   = []string{"de", "fi", "no", "nl"}
	Protocols = []string{"hysteria", "vless", "wireguard"}
)

// base prices in USD cents
var baseTable = map[string]map[int]int64{
	PlanBasic:    {1: 200, 3: 500, 6: 900, 12: 1600},
	PlanStandard: {1: 300, 3: 800, 6: 1500, 12: 2700},
	PlanPremium:  {1: 500, 3: 1300, 6: 2400, 12: 4400},
}

const (
	defaultCustomBaseCents        = 250
	defaultCustomExtraDeviceCents = 100
	defaultUSDRUB                 = 95.0
	defaultUSDStars               = 50.0
)

func IsTier(plan string) bool  { return contains(Tiers, plan) }
func IsServer(s string) bool   { return contains(Servers, s) }
func IsProtocol(p string) bool { return contains(Protocols, p) }
func IsMonths(m int) bool {
	for _, v := range Months {
		if v == m {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
