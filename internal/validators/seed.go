package validators

import (
	"context"
	"errors"
	"fmt"
)

// DefaultNetwork is the founding ambassador network loaded into an empty registry
var DefaultNetwork = []RegisterRequest{
	{
		Address:     "rValidatorSN1ABC123",
		Name:        "Amadou Diallo",
		Location:    Location{Country: "Senegal", Region: "Dakar", Lat: 14.6928, Lng: -17.4467},
		Reputation:  98,
		Specialties: []Category{CategoryWater, CategoryInfrastructure},
		Contact:     Contact{Email: "amadou@xrplcommons.sn", Telegram: "@amadou_xrpl"},
	},
	{
		Address:     "rValidatorSN2DEF456",
		Name:        "Fatou Sow",
		Location:    Location{Country: "Senegal", Region: "Thiès", Lat: 14.7886, Lng: -16.9262},
		Reputation:  95,
		Specialties: []Category{CategoryEducation, CategoryHealth},
		Contact:     Contact{Email: "fatou@xrplcommons.sn"},
	},
	{
		Address:     "rValidatorKE1GHI789",
		Name:        "James Omondi",
		Location:    Location{Country: "Kenya", Region: "Nairobi", Lat: -1.2864, Lng: 36.8172},
		Reputation:  92,
		Specialties: []Category{CategoryHealth, CategoryClimate},
		Contact:     Contact{Email: "james@xrplcommons.ke", Twitter: "@james_xrpl"},
	},
	{
		Address:     "rValidatorIN1JKL012",
		Name:        "Raj Kumar",
		Location:    Location{Country: "India", Region: "Bangalore", Lat: 12.9716, Lng: 77.5946},
		Reputation:  94,
		Specialties: []Category{CategoryEducation, CategoryInfrastructure},
		Contact:     Contact{Email: "raj@xrplcommons.in", Telegram: "@raj_xrpl"},
	},
	{
		Address:     "rValidatorIN2MNO345",
		Name:        "Priya Singh",
		Location:    Location{Country: "India", Region: "Mumbai", Lat: 19.0760, Lng: 72.8777},
		Reputation:  89,
		Specialties: []Category{CategoryWater, CategoryHealth},
		Contact:     Contact{Email: "priya@xrplcommons.in"},
	},
	{
		Address:     "rValidatorBR1PQR678",
		Name:        "Carlos Silva",
		Location:    Location{Country: "Brazil", Region: "São Paulo", Lat: -23.5505, Lng: -46.6333},
		Reputation:  91,
		Specialties: []Category{CategoryClimate, CategoryInfrastructure},
		Contact:     Contact{Email: "carlos@xrplcommons.br", Telegram: "@carlos_xrpl"},
	},
	{
		Address:     "rValidatorBR2STU901",
		Name:        "Ana Costa",
		Location:    Location{Country: "Brazil", Region: "Rio de Janeiro", Lat: -22.9068, Lng: -43.1729},
		Reputation:  87,
		Specialties: []Category{CategoryEducation, CategoryWater},
		Contact:     Contact{Email: "ana@xrplcommons.br"},
	},
	{
		Address:     "rValidatorFR1VWX234",
		Name:        "Marie Dubois",
		Location:    Location{Country: "France", Region: "Paris", Lat: 48.8566, Lng: 2.3522},
		Reputation:  96,
		Specialties: []Category{CategoryClimate, CategoryEducation},
		Contact:     Contact{Email: "marie@xrplcommons.fr", Twitter: "@marie_xrpl"},
	},
}

// SeedDefaults registers DefaultNetwork when the registry is empty. It
// returns the number of validators added.
func SeedDefaults(ctx context.Context, r *Registry) (int, error) {
	n, err := r.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count validators: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	added := 0
	for _, req := range DefaultNetwork {
		if _, err := r.Register(ctx, req); err != nil {
			if errors.Is(err, ErrValidatorExists) {
				continue
			}
			return added, fmt.Errorf("failed to seed %s: %w", req.Address, err)
		}
		added++
	}
	return added, nil
}
