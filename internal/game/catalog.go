package game

import "math"

// defaultUpgrades is the upgrade catalog, in display order. Catalog content
// is code, not configuration: ids are part of the API surface and the cost
// curve is balanced against the starting rate.
var defaultUpgrades = []Upgrade{
	{ID: "coffee-machine", Name: "Coffee Machine", RateBonus: 0.5, BaseCost: 10, Growth: 1.15},
	{ID: "intern", Name: "Intern", RateBonus: 2, BaseCost: 50, Growth: 1.15},
	{ID: "developer", Name: "Developer", RateBonus: 10, BaseCost: 250, Growth: 1.15},
	{ID: "sales-team", Name: "Sales Team", RateBonus: 40, BaseCost: 1000, Growth: 1.15},
	{ID: "office-tower", Name: "Office Tower", RateBonus: 200, BaseCost: 5000, Growth: 1.15},
}

// Catalog returns a copy of the upgrade catalog in display order.
func Catalog() []Upgrade {
	out := make([]Upgrade, len(defaultUpgrades))
	copy(out, defaultUpgrades)
	return out
}

// UpgradeByID looks an upgrade up by its catalog id.
func UpgradeByID(id string) (Upgrade, bool) {
	for _, u := range defaultUpgrades {
		if u.ID == id {
			return u, true
		}
	}
	return Upgrade{}, false
}

// UpgradeCost returns the price of the next unit of u when owned units are
// already held: ceil(base_cost * growth^owned). The store calls this inside
// the purchase transaction so pricing has exactly one implementation.
func UpgradeCost(u Upgrade, owned int) float64 {
	return math.Ceil(u.BaseCost * math.Pow(u.Growth, float64(owned)))
}
