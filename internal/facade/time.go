package facade

import "time"

// nowFn is the facade's time source, overridable by tests that need
// deterministic submission/completion timestamps.
var nowFn = time.Now
